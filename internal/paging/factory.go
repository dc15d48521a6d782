package paging

import (
	"context"
	"sync"

	"github.com/abelbrown/spaceweather/internal/store"
)

// Trigger calls fire for every event of some kind until ctx is done.
type Trigger func(ctx context.Context, fire func())

// OnSignal fires for every value received on ch.
func OnSignal(ch <-chan struct{}) Trigger {
	return func(ctx context.Context, fire func()) {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fire()
			}
		}
	}
}

// ChangeSource is a store change feed.
type ChangeSource interface {
	Subscribe() <-chan store.Change
	Unsubscribe(<-chan store.Change)
}

// OnChange fires for store changes of the given kinds.
func OnChange(src ChangeSource, kinds ...store.ChangeKind) Trigger {
	return func(ctx context.Context, fire func()) {
		ch := src.Subscribe()
		defer src.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-ch:
				if !ok {
					return
				}
				for _, k := range kinds {
					if c.Kind == k {
						fire()
						break
					}
				}
			}
		}
	}
}

// Factory creates sources and invalidates the most recent one whenever a
// trigger fires. Older sources are assumed to be invalidated already.
type Factory[T any] struct {
	create func() *Source[T]

	mu     sync.Mutex
	latest *Source[T]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFactory starts listening on triggers. Call Close to stop.
func NewFactory[T any](create func() *Source[T], triggers ...Trigger) *Factory[T] {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Factory[T]{create: create, cancel: cancel}
	for _, trigger := range triggers {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			trigger(ctx, f.invalidateLatest)
		}()
	}
	return f
}

// New creates a source and makes it the one invalidated by triggers.
func (f *Factory[T]) New() *Source[T] {
	s := f.create()
	f.mu.Lock()
	f.latest = s
	f.mu.Unlock()
	return s
}

func (f *Factory[T]) invalidateLatest() {
	f.mu.Lock()
	s := f.latest
	f.mu.Unlock()
	if s != nil {
		s.Invalidate()
	}
}

// Close stops listening on triggers.
func (f *Factory[T]) Close() {
	f.cancel()
	f.wg.Wait()
}
