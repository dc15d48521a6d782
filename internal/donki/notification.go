package donki

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Notification is a decoded DONKI notification message.
type Notification struct {
	ID    NotificationID
	Type  NotificationType
	Time  time.Time
	Link  string
	Body  string
	Title string
	// Subtitle is the message summary line, empty when absent.
	Subtitle string
	Read     bool
}

// Summary returns the list-view projection.
func (n Notification) Summary() NotificationSummary {
	return NotificationSummary{
		ID:       n.ID,
		Type:     n.Type,
		Time:     n.Time,
		Title:    n.Title,
		Subtitle: n.Subtitle,
		Read:     n.Read,
	}
}

// NotificationSummary is a row in a notification list.
type NotificationSummary struct {
	ID       NotificationID
	Type     NotificationType
	Time     time.Time
	Title    string
	Subtitle string
	Read     bool
}

type notificationWire struct {
	ID   string `json:"messageID"`
	Type string `json:"messageType"`
	Time string `json:"messageIssueTime"`
	Link string `json:"messageURL"`
	Body string `json:"messageBody"`
}

// DecodeNotifications decodes the /notifications response. Title and
// subtitle are extracted from the body; Read is left false.
func DecodeNotifications(data []byte) ([]Notification, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wire []notificationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	out := make([]Notification, 0, len(wire))
	for _, w := range wire {
		t, err := ParseNotificationType(w.Type)
		if err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", w.ID, err)
		}
		issued, err := ParseTime(w.Time)
		if err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", w.ID, err)
		}
		out = append(out, Notification{
			ID:       NotificationID(w.ID),
			Type:     t,
			Time:     issued,
			Link:     w.Link,
			Body:     strings.TrimSpace(w.Body),
			Title:    FindTitle(w.Body),
			Subtitle: FindSubtitle(w.Body),
		})
	}
	return out, nil
}

// SortNotificationsByTime sorts notifications oldest first.
func SortNotificationsByTime(ns []Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].Time.Before(ns[j].Time)
	})
}

// SortNotificationSummariesNewestFirst sorts summaries newest first.
func SortNotificationSummariesNewestFirst(ns []NotificationSummary) {
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].Time.After(ns[j].Time)
	})
}
