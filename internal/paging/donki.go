package paging

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/repo"
	"github.com/abelbrown/spaceweather/internal/store"
	"github.com/abelbrown/spaceweather/internal/week"
)

// EventFilter selects event types and an optional date range.
type EventFilter struct {
	Types     []donki.EventType
	DateRange *week.DateRange
}

// NotificationFilter selects notification types and an optional date range.
type NotificationFilter struct {
	Types     []donki.NotificationType
	DateRange *week.DateRange
}

// NewEventsPager pages event summaries matching filters. Sources are
// invalidated when filters change, when the mediator refreshes and when the
// cache database is recreated.
func NewEventsPager(events *repo.Events, filters *Filters[EventFilter], opts SourceOptions) *Pager[donki.EventSummary] {
	m := NewMediator("events",
		func(ctx context.Context, initial bool) ([]refresh.CachedWeek, bool, error) {
			f := filters.Get()
			if len(f.Types) == 0 {
				return nil, false, nil
			}
			weeks, err := events.WeeksNeedingRefresh(ctx, f.Types, f.DateRange)
			if err != nil {
				return nil, false, err
			}
			if initial {
				weeks = refresh.ExcludeCachedRecently(weeks)
			}
			return weeks, len(weeks) > 0, nil
		},
		func(ctx context.Context, weeks []refresh.CachedWeek) error {
			g, ctx := errgroup.WithContext(ctx)
			for _, cw := range weeks {
				g.Go(func() error {
					_, err := events.UpdateWeek(ctx, cw.Week, donki.EventType(cw.Type))
					return err
				})
			}
			return g.Wait()
		},
		opts.Events,
	)

	create := func() *Source[donki.EventSummary] {
		f := filters.Get()
		types := f.Types
		return NewSource(func(ctx context.Context, w week.Week, r *week.DateRange, refreshIfNeeded bool) ([]donki.EventSummary, error) {
			return events.SummariesForWeek(ctx, w, types, r, refreshIfNeeded)
		}, f.DateRange, len(types) == 0, opts)
	}
	factory := NewFactory(create,
		filters.Changed(),
		OnSignal(m.Refreshed()),
		OnChange(events, store.ChangeRecreated),
	)
	return &Pager[donki.EventSummary]{Factory: factory, Mediator: m}
}

// NewNotificationsPager pages notification summaries matching filters.
// Besides the events pager triggers, marking notifications read also
// invalidates the source.
func NewNotificationsPager(notifications *repo.Notifications, filters *Filters[NotificationFilter], opts SourceOptions) *Pager[donki.NotificationSummary] {
	m := NewMediator("notifications",
		func(ctx context.Context, initial bool) ([]refresh.CachedWeek, bool, error) {
			f := filters.Get()
			if len(f.Types) == 0 {
				return nil, false, nil
			}
			weeks, err := notifications.WeeksNeedingRefresh(ctx, f.DateRange)
			if err != nil {
				return nil, false, err
			}
			if initial {
				weeks = refresh.ExcludeCachedRecently(weeks)
			}
			return weeks, len(weeks) > 0, nil
		},
		func(ctx context.Context, weeks []refresh.CachedWeek) error {
			g, ctx := errgroup.WithContext(ctx)
			for _, cw := range weeks {
				g.Go(func() error {
					_, err := notifications.UpdateWeek(ctx, cw.Week)
					return err
				})
			}
			return g.Wait()
		},
		opts.Events,
	)

	create := func() *Source[donki.NotificationSummary] {
		f := filters.Get()
		types := f.Types
		return NewSource(func(ctx context.Context, w week.Week, r *week.DateRange, _ bool) ([]donki.NotificationSummary, error) {
			return notifications.SummariesForWeek(ctx, w, types, r)
		}, f.DateRange, len(types) == 0, opts)
	}
	factory := NewFactory(create,
		filters.Changed(),
		OnSignal(m.Refreshed()),
		OnChange(notifications, store.ChangeRecreated, store.ChangeMarkedRead),
	)
	return &Pager[donki.NotificationSummary]{Factory: factory, Mediator: m}
}
