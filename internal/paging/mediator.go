package paging

import (
	"context"
	"sync"
	"time"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
)

// InitializeAction says whether the consumer should run a refresh before
// showing cached data.
type InitializeAction int

const (
	SkipInitialRefresh InitializeAction = iota
	LaunchInitialRefresh
)

func (a InitializeAction) String() string {
	if a == LaunchInitialRefresh {
		return "launch"
	}
	return "skip"
}

// MediatorResult is the outcome of Mediator.Load. A nil Err is success.
type MediatorResult struct {
	EndOfPaginationReached bool
	Err                    error
}

// RemoteMediator refreshes the cache on behalf of a pager.
type RemoteMediator interface {
	Initialize(ctx context.Context) InitializeAction
	Load(ctx context.Context, kind LoadKind) (MediatorResult, error)
	Refreshed() <-chan struct{}
}

// RefreshDataFunc returns the work a refresh has to do, or ok=false when
// there is nothing to refresh. initial is true for the check made when the
// pager starts.
type RefreshDataFunc[D any] func(ctx context.Context, initial bool) (data D, ok bool, err error)

// RefreshFunc performs a refresh.
type RefreshFunc[D any] func(ctx context.Context, data D) error

// Mediator is a RemoteMediator driven by two functions. The data found by
// Initialize is kept for the first refresh so it is not looked up twice.
type Mediator[D any] struct {
	partition string
	data      RefreshDataFunc[D]
	refresh   RefreshFunc[D]
	events    *otel.Logger

	mu        sync.Mutex
	pending   *D
	listeners []chan struct{}
}

// NewMediator creates a mediator; partition labels logs and metrics.
func NewMediator[D any](partition string, data RefreshDataFunc[D], refresh RefreshFunc[D], events *otel.Logger) *Mediator[D] {
	return &Mediator[D]{partition: partition, data: data, refresh: refresh, events: events}
}

// Initialize looks for refresh work. Lookup failures are logged and treated
// as no work.
func (m *Mediator[D]) Initialize(ctx context.Context) InitializeAction {
	data, ok, err := m.data(ctx, true)
	if err != nil {
		log.Error("Failed to get initial refresh data", "partition", m.partition, "error", err)
		ok = false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.pending = nil
		return SkipInitialRefresh
	}
	m.pending = &data
	return LaunchInitialRefresh
}

func (m *Mediator[D]) takePending() (D, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending
	m.pending = nil
	if p == nil {
		var zero D
		return zero, false
	}
	return *p, true
}

// Load acts on Refresh only; appends and prepends succeed immediately and
// prepends report the end of pagination. The returned error is non-nil only
// when ctx was cancelled.
func (m *Mediator[D]) Load(ctx context.Context, kind LoadKind) (MediatorResult, error) {
	if kind != Refresh {
		return MediatorResult{EndOfPaginationReached: kind == Prepend}, nil
	}

	data, ok := m.takePending()
	if !ok {
		var err error
		data, ok, err = m.data(ctx, false)
		if err != nil {
			return m.fail(ctx, "get refresh data", err)
		}
	}
	if !ok {
		log.Debug("Nothing to refresh", "partition", m.partition)
		return MediatorResult{}, nil
	}

	start := time.Now()
	if err := m.refresh(ctx, data); err != nil {
		return m.fail(ctx, "refresh", err)
	}
	metrics.MediatorRefresh(m.partition, "ok")
	log.Info("Refreshed", "partition", m.partition, "duration", time.Since(start))
	m.events.Emit(otel.Event{Kind: otel.KindMediatorRefresh, Comp: "paging", Partition: m.partition, Dur: time.Since(start)})
	m.emitRefreshed()
	return MediatorResult{}, nil
}

func (m *Mediator[D]) fail(ctx context.Context, op string, err error) (MediatorResult, error) {
	if donki.IsCancellation(err) && ctx.Err() != nil {
		metrics.MediatorRefresh(m.partition, "cancelled")
		return MediatorResult{}, ctx.Err()
	}
	metrics.MediatorRefresh(m.partition, "error")
	log.Error("Mediator failed", "partition", m.partition, "op", op, "error", err)
	m.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindMediatorError, Comp: "paging", Partition: m.partition, Msg: op, Err: err.Error()})
	return MediatorResult{Err: err}, nil
}

// Refreshed returns a channel receiving a value after every successful
// refresh. Signals are coalesced if the receiver is slow.
func (m *Mediator[D]) Refreshed() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

func (m *Mediator[D]) emitRefreshed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
