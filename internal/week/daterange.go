package week

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyRange is returned when a range would contain no instants.
var ErrEmptyRange = errors.New("date range is empty")

// DateRange is the half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates and returns a range. Times are converted to UTC.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if !start.Before(end) {
		return DateRange{}, fmt.Errorf("%w: %s >= %s", ErrEmptyRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return DateRange{Start: start.UTC(), End: end.UTC()}, nil
}

// ParseDays builds a range covering whole UTC days: from the start of
// first through the end of last. Both are YYYY-MM-DD.
func ParseDays(first, last string) (DateRange, error) {
	start, err := time.Parse(dateLayout, first)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse first day: %w", err)
	}
	end, err := time.Parse(dateLayout, last)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse last day: %w", err)
	}
	return NewDateRange(start, end.AddDate(0, 0, 1))
}

// LastWeek returns the week holding the last instant of the range.
func (r DateRange) LastWeek() Week {
	end := r.End.UTC()
	if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 && end.Nanosecond() == 0 {
		end = end.AddDate(0, 0, -1)
	}
	return FromInstant(end)
}

// CoerceToWeek clamps the range into the bounds of w.
func (r DateRange) CoerceToWeek(w Week) DateRange {
	return DateRange{
		Start: clamp(r.Start, w.Start(), w.End().Add(-time.Nanosecond)),
		End:   clamp(r.End, w.Start(), w.End()),
	}
}

// Intersects reports whether the two half-open ranges overlap.
func (r DateRange) Intersects(o DateRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Contains reports whether t falls inside [Start, End).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Equal reports whether both bounds match.
func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

func clamp(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}
