package donki

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	titleRegex    = regexp.MustCompile(`## Message Type: (?:(?:Auto-generated )?Space Weather Notification - )?(.*)`)
	subtitleRegex = regexp.MustCompile(`## Summary:\s+(.*)`)
	eventIDRegex  = regexp.MustCompile(`[A-Z0-9:-]+-(?:CME|GST|IPS|FLR|SEP|MPC|RBE|HSS)-\d+`)
)

// FindTitle returns the message type line of a notification body.
func FindTitle(body string) string {
	return firstGroup(titleRegex, body)
}

// FindSubtitle returns the first summary line of a notification body.
func FindSubtitle(body string) string {
	return firstGroup(subtitleRegex, body)
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// LinkedEvent is an event id mentioned in a notification body.
type LinkedEvent struct {
	ID   EventID
	Type EventType
	Time time.Time
}

// FindLinkedEvents returns the distinct, parseable event ids mentioned in
// body, newest first.
func FindLinkedEvents(body string) []LinkedEvent {
	seen := make(map[EventID]bool)
	var out []LinkedEvent
	for _, m := range eventIDRegex.FindAllString(body, -1) {
		id := EventID(m)
		if seen[id] {
			continue
		}
		seen[id] = true
		t, at, err := id.Parse()
		if err != nil {
			continue
		}
		out = append(out, LinkedEvent{ID: id, Type: t, Time: at})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.After(out[j].Time)
	})
	return out
}
