// Package refresh decides when cached weeks are stale.
//
// A week's data keeps changing on the server for a while after the week
// starts: events are revised for about two weeks, notifications for about
// one. A cached week needs a refresh while it was loaded inside that window.
// Weeks loaded within the last hour are "cached recently" and are not
// refreshed again by page loads.
package refresh

import (
	"time"

	"github.com/abelbrown/spaceweather/internal/week"
)

const (
	// EventsThreshold is how long after a week starts its events may change.
	EventsThreshold = 14 * 24 * time.Hour
	// NotificationsThreshold is the same window for notifications.
	NotificationsThreshold = 7 * 24 * time.Hour
	// RecentlyCachedInterval is how long a load counts as cached recently.
	RecentlyCachedInterval = time.Hour
)

// Clock returns the current instant. Tests substitute a fixed clock.
type Clock func() time.Time

// Now is the production clock.
func Now() time.Time { return time.Now().UTC() }

// NeedsRefresh reports whether a week loaded at loadTime may be out of date.
func NeedsRefresh(w week.Week, loadTime time.Time, threshold time.Duration) bool {
	return loadTime.Before(w.Start().Add(threshold))
}

// CachedRecently reports whether loadTime is within RecentlyCachedInterval
// of now.
func CachedRecently(loadTime, now time.Time) bool {
	return now.Sub(loadTime) < RecentlyCachedInterval
}

// CachedWeek is a week record that needs refreshing. Type is the event type
// for the events partition and empty for notifications.
type CachedWeek struct {
	Week           week.Week
	Type           string
	LoadTime       time.Time
	CachedRecently bool
}

// Decision classifies one cached (week, type).
type Decision int

const (
	// NotCached means the week has no record.
	NotCached Decision = iota
	// Fresh means the cached data can no longer change on the server.
	Fresh
	// StaleCachedRecently means the data may change but was loaded
	// within RecentlyCachedInterval.
	StaleCachedRecently
	// StaleRefreshNow means the data may change and is old enough to
	// fetch again.
	StaleRefreshNow
)

func (d Decision) String() string {
	switch d {
	case NotCached:
		return "not-cached"
	case Fresh:
		return "fresh"
	case StaleCachedRecently:
		return "stale-cached-recently"
	}
	return "stale"
}

// Fetch reports whether a load should go to the network. A stale week is
// served from the cache unless refreshIfNeeded is set.
func (d Decision) Fetch(refreshIfNeeded bool) bool {
	switch d {
	case NotCached:
		return true
	case StaleRefreshNow:
		return refreshIfNeeded
	}
	return false
}

// Decide classifies week w. cached is false when the week has no record.
func Decide(w week.Week, loadTime time.Time, cached bool, threshold time.Duration, now time.Time) Decision {
	switch {
	case !cached:
		return NotCached
	case !NeedsRefresh(w, loadTime, threshold):
		return Fresh
	case CachedRecently(loadTime, now):
		return StaleCachedRecently
	}
	return StaleRefreshNow
}
