package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/refresh"
)

// Colors used in terminal output.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorHighlight)
	typeBadge   = lipgloss.NewStyle().Foreground(colorPrimary).Background(lipgloss.Color("236")).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorSecondary)
	unreadStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	okStyle     = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// when formats t as an absolute UTC time plus a relative hint.
func when(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04Z") + mutedStyle.Render(" ("+humanize.Time(t)+")")
}

func extrasText(x donki.Extras) string {
	var parts []string
	if x.ClassType != nil {
		parts = append(parts, "class "+*x.ClassType)
	}
	if x.KpIndex != nil {
		parts = append(parts, fmt.Sprintf("Kp %.2g", *x.KpIndex))
	}
	if x.Location != nil {
		parts = append(parts, *x.Location)
	}
	if x.PredictedEarthImpact != nil {
		parts = append(parts, "earth impact: "+x.PredictedEarthImpact.String())
	}
	return strings.Join(parts, ", ")
}

func printEventSummaries(w io.Writer, sums []donki.EventSummary) {
	if len(sums) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No events"))
		return
	}
	for _, s := range sums {
		line := fmt.Sprintf("%s %s %s", when(s.Time), typeBadge.Render(string(s.Type)), s.ID)
		if x := extrasText(s.Extras); x != "" {
			line += mutedStyle.Render(" " + x)
		}
		fmt.Fprintln(w, line)
	}
}

func printNotificationSummaries(w io.Writer, sums []donki.NotificationSummary) {
	if len(sums) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No notifications"))
		return
	}
	for _, s := range sums {
		title := s.Title
		if !s.Read {
			title = unreadStyle.Render("● " + title)
		}
		fmt.Fprintf(w, "%s %s %s\n", when(s.Time), typeBadge.Render(string(s.Type)), title)
		if s.Subtitle != "" {
			fmt.Fprintln(w, mutedStyle.Render("    "+s.Subtitle))
		}
		fmt.Fprintln(w, mutedStyle.Render("    "+string(s.ID)))
	}
}

func stateText(s refresh.State) string {
	switch s {
	case refresh.DontNeedToRefresh:
		return okStyle.Render("up to date")
	case refresh.HaveWeeksThatNeedRefreshButAllCachedRecently:
		return mutedStyle.Render("stale weeks, all loaded within the last hour")
	default:
		return headerStyle.Render("stale weeks need a refresh")
	}
}
