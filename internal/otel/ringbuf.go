package otel

import "sync"

// DefaultRingSize is the default ring buffer capacity.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent events in memory for /debug/events.
// Once full, each Push replaces the oldest event.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []Event
	next int // slot the next Push writes
	full bool
}

// NewRingBuffer creates a ring buffer holding size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{buf: make([]Event, size)}
}

// Push stores e. Its Extra map is copied so later writes by the emitter
// do not show up in the buffer.
func (r *RingBuffer) Push(e Event) {
	if len(e.Extra) > 0 {
		extra := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			extra[k] = v
		}
		e.Extra = extra
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next++
	if r.next == len(r.buf) {
		r.next, r.full = 0, true
	}
}

// Len returns the number of buffered events.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.len()
}

func (r *RingBuffer) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Last returns up to n most recent events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	return r.Recent(n, nil)
}

// Recent returns up to n of the most recent events accepted by match,
// oldest first. A nil match accepts everything.
func (r *RingBuffer) Recent(n int, match func(Event) bool) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for i := 1; i <= r.len() && len(out) < n; i++ {
		e := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
