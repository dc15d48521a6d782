package paging

import (
	"context"
	"sync"
)

// Filters holds the current filter value of a pager and notifies
// listeners when it changes.
type Filters[F any] struct {
	mu        sync.Mutex
	value     F
	listeners []chan struct{}
}

// NewFilters creates a holder with an initial value.
func NewFilters[F any](initial F) *Filters[F] {
	return &Filters[F]{value: initial}
}

// Get returns the current value.
func (f *Filters[F]) Get() F {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set replaces the value and notifies listeners.
func (f *Filters[F]) Set(v F) {
	f.mu.Lock()
	f.value = v
	listeners := append([]chan struct{}(nil), f.listeners...)
	f.mu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Changed is a Trigger firing after every Set.
func (f *Filters[F]) Changed() Trigger {
	return func(ctx context.Context, fire func()) {
		ch := make(chan struct{}, 1)
		f.mu.Lock()
		f.listeners = append(f.listeners, ch)
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			for i, l := range f.listeners {
				if l == ch {
					f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
					break
				}
			}
			f.mu.Unlock()
		}()
		OnSignal(ch)(ctx, fire)
	}
}
