// Package work runs detached background work: cache write-through,
// mark-as-read and background updates. Work submitted here outlives the
// request that started it and is cancelled only when the pool stops.
package work

import (
	"fmt"
	"time"
)

// Type categorizes work items for logs and stats.
type Type string

const (
	TypeWriteThrough Type = "write-through" // Storing fetched weeks
	TypeMarkRead     Type = "mark-read"     // Marking notifications read
	TypeUpdate       Type = "update"        // Background notification update
	TypeOther        Type = "other"
)

// Priorities for Submit. Higher runs first when the pool is saturated.
const (
	PriorityLow    = -10
	PriorityNormal = 0
	PriorityHigh   = 10
)

// Status represents the lifecycle state of a work item.
type Status string

const (
	StatusPending  Status = "pending"  // Queued, waiting for a slot
	StatusActive   Status = "active"   // Running
	StatusComplete Status = "complete" // Finished successfully
	StatusFailed   Status = "failed"   // Finished with error or cancelled
)

// Item is a unit of background work.
type Item struct {
	ID          string
	Type        Type
	Status      Status
	Description string // "store CME week 2022-01-17"
	Priority    int

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	Error error

	fn  Func
	seq int64 // submission order
}

// Duration returns how long the work took (or has been running).
func (i *Item) Duration() time.Duration {
	if i.FinishedAt.IsZero() {
		if i.StartedAt.IsZero() {
			return 0
		}
		return time.Since(i.StartedAt)
	}
	return i.FinishedAt.Sub(i.StartedAt)
}

// Event is sent to subscribers when work state changes. Item is a copy.
type Event struct {
	Item   Item
	Change string // "created", "started", "completed", "failed"
}

// Stats tracks pool counters.
type Stats struct {
	TotalCreated   int64
	TotalCompleted int64
	TotalFailed    int64
	Active         int
	Pending        int
	Workers        int
}

func (s Stats) String() string {
	return fmt.Sprintf("Active: %d  Pending: %d  Done: %d  Failed: %d",
		s.Active, s.Pending, s.TotalCompleted, s.TotalFailed)
}

// history keeps the most recent finished items, newest last.
type history struct {
	items []Item
	size  int
}

func newHistory(size int) *history {
	return &history{size: size}
}

func (h *history) push(it Item) {
	h.items = append(h.items, it)
	if len(h.items) > h.size {
		h.items = h.items[len(h.items)-h.size:]
	}
}

// all returns the items newest first.
func (h *history) all() []Item {
	out := make([]Item, len(h.items))
	for i, it := range h.items {
		out[len(out)-1-i] = it
	}
	return out
}
