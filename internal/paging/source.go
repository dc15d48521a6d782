// Package paging serves cached data one week per page, newest first, for
// infinite-scroll style consumers.
//
// A Source loads pages and is discarded when invalidated; a Factory makes
// sources and invalidates the latest one when the underlying data changes.
// A Mediator refreshes stale cached weeks in the background and signals
// when it did.
package paging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/week"
)

var log = logging.For("paging")

// DefaultEmptyPageDelay slows down consumers that keep requesting empty
// pages, which happens when scrolling through weeks with no data.
const DefaultEmptyPageDelay = time.Second

// LoadKind says why a page is requested.
type LoadKind int

const (
	// Refresh loads the first page after (re)creation.
	Refresh LoadKind = iota
	// Append loads an older page.
	Append
	// Prepend loads a newer page.
	Prepend
)

func (k LoadKind) String() string {
	switch k {
	case Refresh:
		return "refresh"
	case Append:
		return "append"
	case Prepend:
		return "prepend"
	}
	return "unknown"
}

// LoadParams is a page request. A nil Key asks for the initial page.
type LoadParams struct {
	Kind LoadKind
	Key  *week.Week
}

// ResultKind discriminates LoadResult.
type ResultKind int

const (
	ResultPage ResultKind = iota
	// ResultInvalid means the key cannot be served; the consumer should
	// get a new source.
	ResultInvalid
	// ResultError carries a load failure in Err.
	ResultError
)

// LoadResult is one of a page, an invalid marker or an error.
// PrevKey points at the newer week, NextKey at the older one; nil means
// there is no such page.
type LoadResult[T any] struct {
	Kind    ResultKind
	Data    []T
	PrevKey *week.Week
	NextKey *week.Week
	Err     error
}

// Loader loads the items of week w restricted to r.
type Loader[T any] func(ctx context.Context, w week.Week, r *week.DateRange, refreshIfNeeded bool) ([]T, error)

// SourceOptions configures a Source. Zero values select defaults.
type SourceOptions struct {
	Now            refresh.Clock
	Events         *otel.Logger
	EmptyPageDelay time.Duration
}

// Source loads pages of one filter. It is single use: after Invalidate the
// consumer creates a new one.
type Source[T any] struct {
	id      string
	load    Loader[T]
	r       *week.DateRange
	noTypes bool
	now     refresh.Clock
	events  *otel.Logger
	delay   time.Duration

	mu        sync.Mutex
	lastEmpty bool

	invalidateOnce sync.Once
	invalidated    chan struct{}
}

// NewSource creates a source over r (nil for unbounded). noTypes marks a
// filter that selects nothing; such a source returns one empty page.
func NewSource[T any](load Loader[T], r *week.DateRange, noTypes bool, opts SourceOptions) *Source[T] {
	now := opts.Now
	if now == nil {
		now = refresh.Now
	}
	delay := opts.EmptyPageDelay
	if delay <= 0 {
		delay = DefaultEmptyPageDelay
	}
	return &Source[T]{
		id:          uuid.NewString()[:8],
		load:        load,
		r:           r,
		noTypes:     noTypes,
		now:         now,
		events:      opts.Events,
		delay:       delay,
		invalidated: make(chan struct{}),
	}
}

// Load serves one page. The returned error is non-nil only when ctx was
// cancelled; other failures are reported as a ResultError.
func (s *Source[T]) Load(ctx context.Context, params LoadParams) (LoadResult[T], error) {
	if s.noTypes {
		log.Warn("All types are disabled", "source", s.id)
		return LoadResult[T]{Kind: ResultPage}, nil
	}

	current := week.Current(s.now())
	var w week.Week
	switch {
	case params.Key != nil:
		if params.Key.After(current) {
			log.Error("Requested week is in the future", "source", s.id, "week", *params.Key, "current", current)
			return LoadResult[T]{Kind: ResultInvalid}, nil
		}
		w = *params.Key
	case s.r != nil:
		w = s.r.LastWeek()
	default:
		w = current
	}

	var coerced *week.DateRange
	if s.r != nil {
		c := s.r.CoerceToWeek(w)
		coerced = &c
	}

	start := time.Now()
	items, err := s.load(ctx, w, coerced, params.Kind != Refresh)
	if err != nil {
		if donki.IsCancellation(err) && ctx.Err() != nil {
			return LoadResult[T]{}, ctx.Err()
		}
		log.Error("Failed to load page", "source", s.id, "week", w, "error", err)
		s.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindPageLoad, Comp: "paging", Week: w.String(), Err: err.Error()})
		return LoadResult[T]{Kind: ResultError, Err: err}, nil
	}

	s.mu.Lock()
	throttle := s.lastEmpty && len(items) == 0
	s.lastEmpty = len(items) == 0
	s.mu.Unlock()
	if throttle {
		log.Debug("Second empty page in a row, delaying", "source", s.id, "week", w, "delay", s.delay)
		t := time.NewTimer(s.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return LoadResult[T]{}, ctx.Err()
		}
	}

	res := LoadResult[T]{Kind: ResultPage, Data: items}
	if prev, ok := w.Future(current, s.r); ok {
		res.PrevKey = &prev
	}
	if next, ok := w.Past(s.r); ok {
		res.NextKey = &next
	}
	log.Debug("Loaded page", "source", s.id, "kind", params.Kind, "week", w, "items", len(items))
	s.events.Emit(otel.Event{Kind: otel.KindPageLoad, Comp: "paging", Week: w.String(), Count: len(items), Dur: time.Since(start), Msg: params.Kind.String()})
	return res, nil
}

// Invalidate marks the source stale. Safe to call more than once.
func (s *Source[T]) Invalidate() {
	s.invalidateOnce.Do(func() {
		log.Debug("Invalidating", "source", s.id)
		s.events.Emit(otel.Event{Kind: otel.KindInvalidate, Comp: "paging", Msg: s.id})
		close(s.invalidated)
	})
}

// Invalidated is closed when the source is invalidated.
func (s *Source[T]) Invalidated() <-chan struct{} { return s.invalidated }

// IsInvalid reports whether Invalidate was called.
func (s *Source[T]) IsInvalid() bool {
	select {
	case <-s.invalidated:
		return true
	default:
		return false
	}
}
