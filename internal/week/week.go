// Package week provides the calendar partitioning used by the cache.
//
// A Week is a Monday-aligned, UTC, seven day bucket. Every cache record is
// keyed by the instant at the start of a week's first day, and all
// navigation between pages happens one week at a time.
package week

import (
	"fmt"
	"time"
)

// Length is the duration of one week.
const Length = 7 * 24 * time.Hour

const dateLayout = "2006-01-02"

// Week is identified by its first day (Monday, UTC midnight).
// The zero value is not a valid week; use Current, FromInstant or FromDate.
type Week struct {
	firstDay time.Time
}

// Current returns the week containing now.
func Current(now time.Time) Week {
	return FromInstant(now)
}

// FromInstant returns the week containing the UTC date of t.
func FromInstant(t time.Time) Week {
	t = t.UTC()
	return FromDate(t.Year(), t.Month(), t.Day())
}

// FromDate returns the week containing the given calendar date.
func FromDate(year int, month time.Month, day int) Week {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Weekday has Sunday = 0; ISO weeks start on Monday.
	offset := (int(d.Weekday()) + 6) % 7
	return Week{firstDay: d.AddDate(0, 0, -offset)}
}

// Parse parses a YYYY-MM-DD date and returns the week containing it.
func Parse(s string) (Week, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return Week{}, fmt.Errorf("parse week %q: %w", s, err)
	}
	return FromInstant(d), nil
}

// IsZero reports whether w is the zero value.
func (w Week) IsZero() bool {
	return w.firstDay.IsZero()
}

// FirstDay returns the Monday of the week at UTC midnight.
func (w Week) FirstDay() time.Time { return w.firstDay }

// LastDay returns the Sunday of the week at UTC midnight.
func (w Week) LastDay() time.Time { return w.firstDay.AddDate(0, 0, 6) }

// Start returns the first instant of the week.
func (w Week) Start() time.Time { return w.firstDay }

// End returns the instant after the last day (exclusive bound).
func (w Week) End() time.Time { return w.firstDay.AddDate(0, 0, 7) }

// Next returns the following (newer) week.
func (w Week) Next() Week { return Week{firstDay: w.firstDay.AddDate(0, 0, 7)} }

// Prev returns the preceding (older) week.
func (w Week) Prev() Week { return Week{firstDay: w.firstDay.AddDate(0, 0, -7)} }

// Future returns the newer neighbour of w, or false when w is already the
// current week or the neighbour starts at or after the end of r.
func (w Week) Future(current Week, r *DateRange) (Week, bool) {
	if w.Equal(current) {
		return Week{}, false
	}
	next := w.Next()
	if r != nil && !next.Start().Before(r.End) {
		return Week{}, false
	}
	return next, true
}

// Past returns the older neighbour of w, or false when the neighbour ends
// at or before the start of r.
func (w Week) Past(r *DateRange) (Week, bool) {
	prev := w.Prev()
	if r != nil && !prev.End().After(r.Start) {
		return Week{}, false
	}
	return prev, true
}

// Contains reports whether t falls inside [Start, End).
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start()) && t.Before(w.End())
}

// Compare returns -1, 0 or +1 ordering weeks by their first day.
func (w Week) Compare(o Week) int {
	return w.firstDay.Compare(o.firstDay)
}

// Equal reports whether both weeks start on the same day.
func (w Week) Equal(o Week) bool { return w.firstDay.Equal(o.firstDay) }

// Before reports whether w is older than o.
func (w Week) Before(o Week) bool { return w.firstDay.Before(o.firstDay) }

// After reports whether w is newer than o.
func (w Week) After(o Week) bool { return w.firstDay.After(o.firstDay) }

// DateRange returns the week as a half-open range.
func (w Week) DateRange() DateRange {
	return DateRange{Start: w.Start(), End: w.End()}
}

func (w Week) String() string {
	return w.firstDay.Format(dateLayout)
}
