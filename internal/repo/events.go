package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/store"
	"github.com/abelbrown/spaceweather/internal/week"
	"github.com/abelbrown/spaceweather/internal/work"
)

// EventsFetcher loads one week of one event type from the network.
type EventsFetcher interface {
	Events(ctx context.Context, w week.Week, t donki.EventType) ([]donki.Event, error)
}

// Events is the events repository.
type Events struct {
	fetcher EventsFetcher
	store   *store.EventsStore
	pool    *work.Pool
	now     refresh.Clock
	group   singleflight.Group
}

// NewEvents creates an events repository. Fetched weeks are written back
// on pool.
func NewEvents(fetcher EventsFetcher, st *store.EventsStore, pool *work.Pool, opts Options) *Events {
	now := opts.Now
	if now == nil {
		now = refresh.Now
	}
	return &Events{fetcher: fetcher, store: st, pool: pool, now: now}
}

// EventByID is a single event and whether its week may have changed since
// it was cached.
type EventByID struct {
	Event        donki.Event
	NeedsRefresh bool
}

// SummariesForWeek returns the events of the given types in week w,
// restricted to r if given, newest first. Each type is served from the
// cache when possible; with refreshIfNeeded a stale week that was not
// cached recently is fetched again.
func (e *Events) SummariesForWeek(ctx context.Context, w week.Week, types []donki.EventType, r *week.DateRange, refreshIfNeeded bool) ([]donki.EventSummary, error) {
	var (
		mu  sync.Mutex
		all []donki.EventSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range types {
		g.Go(func() error {
			sums, err := e.summariesForType(gctx, w, t, r, refreshIfNeeded)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, sums...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	donki.SortSummariesNewestFirst(all)
	return all, nil
}

func (e *Events) summariesForType(ctx context.Context, w week.Week, t donki.EventType, r *week.DateRange, refreshIfNeeded bool) ([]donki.EventSummary, error) {
	loadTime, cached, err := e.store.WeekLoadTime(ctx, w, t)
	if err != nil {
		return nil, err
	}
	decision := refresh.Decide(w, loadTime, cached, refresh.EventsThreshold, e.now())
	if !decision.Fetch(refreshIfNeeded) {
		sums, err := e.store.EventSummaries(ctx, w, t, r)
		if err != nil {
			return nil, err
		}
		// nil means the record disappeared since the load time check.
		if sums != nil {
			return sums, nil
		}
	}

	log.Debug("Loading week from network", "week", w, "type", t, "decision", decision)
	fetchTime := e.now()
	events, err := e.fetch(ctx, w, t)
	if err != nil {
		return nil, err
	}
	e.pool.Go(work.TypeWriteThrough, fmt.Sprintf("store %s week %s", t, w), func(ctx context.Context) error {
		return e.store.CacheWeek(ctx, w, t, events, fetchTime)
	})

	sums := make([]donki.EventSummary, 0, len(events))
	for _, ev := range events {
		if r != nil && !r.Contains(ev.Time) {
			continue
		}
		sums = append(sums, ev.Summary())
	}
	return sums, nil
}

// fetch coalesces concurrent fetches of the same (week, type). The result
// is shared and must not be modified.
func (e *Events) fetch(ctx context.Context, w week.Week, t donki.EventType) ([]donki.Event, error) {
	v, err, shared := e.group.Do(string(t)+"/"+w.String(), func() (any, error) {
		return e.fetcher.Events(ctx, w, t)
	})
	if shared {
		metrics.CoalescedFetch("events")
		// The leader's caller went away; this caller has not.
		if donki.IsCancellation(err) && ctx.Err() == nil {
			return e.fetcher.Events(ctx, w, t)
		}
	}
	if err != nil {
		return nil, err
	}
	return v.([]donki.Event), nil
}

// UpdateWeek fetches week w of type t and stores it before returning.
func (e *Events) UpdateWeek(ctx context.Context, w week.Week, t donki.EventType) ([]donki.Event, error) {
	log.Debug("Updating week", "week", w, "type", t)
	loadTime := e.now()
	events, err := e.fetch(ctx, w, t)
	if err != nil {
		return nil, err
	}
	if err := e.store.CacheWeek(ctx, w, t, events, loadTime); err != nil {
		return nil, err
	}
	return events, nil
}

// ByID returns event id from the cache, or from the network when it is
// not cached or forceRefresh is set.
func (e *Events) ByID(ctx context.Context, id donki.EventID, forceRefresh bool) (EventByID, error) {
	t, at, err := id.Parse()
	if err != nil {
		return EventByID{}, fmt.Errorf("get event %s: %w", id, err)
	}
	w := week.FromInstant(at)

	if !forceRefresh {
		raw, ok, err := e.store.EventJSON(ctx, id)
		if err != nil {
			return EventByID{}, err
		}
		if ok {
			ev, err := donki.DecodeEvent(t, raw)
			if err != nil {
				return EventByID{}, donki.WrapCacheError(fmt.Sprintf("decode cached event %s", id), err)
			}
			return EventByID{Event: ev, NeedsRefresh: e.WeekNeedsRefresh(ctx, w, t)}, nil
		}
	}

	events, err := e.UpdateWeek(ctx, w, t)
	if err != nil {
		if !donki.IsCancellation(err) {
			log.Error("Failed to get event", "id", id, "error", err)
		}
		return EventByID{}, err
	}
	for _, ev := range events {
		if ev.ID == id {
			return EventByID{Event: ev}, nil
		}
	}
	return EventByID{}, fmt.Errorf("did not find event %s in server response: %w", id, donki.ErrNotFound)
}

// WeekNeedsRefresh reports whether week w of type t is missing or may have
// changed since it was cached. Errors are logged and reported as false.
func (e *Events) WeekNeedsRefresh(ctx context.Context, w week.Week, t donki.EventType) bool {
	loadTime, cached, err := e.store.WeekLoadTime(ctx, w, t)
	if err != nil {
		if !donki.IsCancellation(err) {
			log.Error("Failed to check week", "week", w, "type", t, "error", err)
		}
		return false
	}
	return !cached || refresh.NeedsRefresh(w, loadTime, refresh.EventsThreshold)
}

// WeeksNeedingRefresh returns the cached (week, type) pairs that may have
// changed, restricted to r if given.
func (e *Events) WeeksNeedingRefresh(ctx context.Context, types []donki.EventType, r *week.DateRange) ([]refresh.CachedWeek, error) {
	return e.store.WeeksNeedingRefresh(ctx, types, r)
}

// NeedToRefreshState streams the refresh state of the filter until ctx is
// done. Empty types never need a refresh.
func (e *Events) NeedToRefreshState(ctx context.Context, types []donki.EventType, r *week.DateRange) <-chan refresh.State {
	if len(types) == 0 {
		return constantState(refresh.DontNeedToRefresh)
	}
	return watchState(ctx, e.store, e.now, func(ctx context.Context) ([]refresh.CachedWeek, error) {
		return e.store.WeeksNeedingRefresh(ctx, types, r)
	})
}

// Subscribe exposes the store's change feed.
func (e *Events) Subscribe() <-chan store.Change { return e.store.Subscribe() }

// Unsubscribe stops a change feed subscription.
func (e *Events) Unsubscribe(ch <-chan store.Change) { e.store.Unsubscribe(ch) }

// IsNotFound reports whether err means the item does not exist.
func IsNotFound(err error) bool { return errors.Is(err, donki.ErrNotFound) }

