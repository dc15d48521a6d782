package donki

import (
	"fmt"
	"strings"
	"time"
)

// EventID is the DONKI activity id, e.g. "2022-01-17T04:02:00-CME-001".
// It encodes the event type and the event's start time.
type EventID string

// Parse extracts the type and time encoded in the id.
func (id EventID) Parse() (EventType, time.Time, error) {
	s := string(id)
	typeEnd := strings.LastIndexByte(s, '-')
	if typeEnd <= 0 {
		return "", time.Time{}, fmt.Errorf("malformed event id %q", s)
	}
	typeStart := strings.LastIndexByte(s[:typeEnd], '-') + 1
	if typeStart <= 1 {
		return "", time.Time{}, fmt.Errorf("malformed event id %q", s)
	}
	eventType, err := ParseEventType(s[typeStart:typeEnd])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("event id %q: %w", s, err)
	}
	t, err := parseLocalDateTime(s[:typeStart-1])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("event id %q: %w", s, err)
	}
	return eventType, t, nil
}

func (id EventID) String() string { return string(id) }

// NotificationID is the DONKI messageID, e.g. "20220117-AL-001".
type NotificationID string

func (id NotificationID) String() string { return string(id) }

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseLocalDateTime parses an ISO local date-time and interprets it as UTC.
func parseLocalDateTime(s string) (time.Time, error) {
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", s)
}

var zonedLayouts = []string{
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// ParseTime parses the timestamps DONKI emits. They are ISO-8601 with
// minute resolution ("2022-01-17T04:02Z") but seconds, fractions and a
// missing zone designator also occur; a missing zone means UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range zonedLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
