// Package otel provides structured observability events for the cache engine.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain
// goroutine. An optional RingBuffer keeps recent events in memory for the
// /debug/events endpoint.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Network
	KindFetchStart    EventKind = "fetch.start"
	KindFetchComplete EventKind = "fetch.complete"
	KindFetchError    EventKind = "fetch.error"
	KindFetchDropped  EventKind = "fetch.dropped" // item outside requested week
	KindKeyChanged    EventKind = "fetch.key_changed"

	// Cache
	KindCacheHit       EventKind = "cache.hit"
	KindCacheMiss      EventKind = "cache.miss"
	KindCacheWrite     EventKind = "cache.write"
	KindCacheError     EventKind = "cache.error"
	KindCacheRecreated EventKind = "cache.recreated"

	// Paging and refresh
	KindPageLoad        EventKind = "paging.load"
	KindInvalidate      EventKind = "paging.invalidate"
	KindMediatorRefresh EventKind = "mediator.refresh"
	KindMediatorError   EventKind = "mediator.error"

	// Background updates
	KindUpdateStart    EventKind = "update.start"
	KindUpdateComplete EventKind = "update.complete"
	KindUpdateSkipped  EventKind = "update.skipped"

	// System
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // component: "fetch", "store", "repo", "paging", "coord"
	SessionID string         `json:"session_id,omitempty"` // same for an entire process run
	Partition string         `json:"partition,omitempty"`  // "events" or "notifications"
	Week      string         `json:"week,omitempty"`       // first day, YYYY-MM-DD
	Type      string         `json:"type,omitempty"`       // event or notification type
	Dur       time.Duration  `json:"-"`                    // not serialized directly
	DurMs     float64        `json:"dur_ms,omitempty"`     // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
