package repo

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/store"
	"github.com/abelbrown/spaceweather/internal/week"
	"github.com/abelbrown/spaceweather/internal/work"
)

// NotificationsFetcher loads one week of notifications of every type.
type NotificationsFetcher interface {
	Notifications(ctx context.Context, w week.Week) ([]donki.Notification, error)
}

// Notifications is the notifications repository. A week is cached once
// for all notification types.
type Notifications struct {
	fetcher         NotificationsFetcher
	store           *store.NotificationsStore
	pool            *work.Pool
	now             refresh.Clock
	unreadThreshold time.Duration
	group           singleflight.Group
}

// NewNotifications creates a notifications repository.
func NewNotifications(fetcher NotificationsFetcher, st *store.NotificationsStore, pool *work.Pool, opts Options) *Notifications {
	now := opts.Now
	if now == nil {
		now = refresh.Now
	}
	threshold := opts.UnreadThreshold
	if threshold <= 0 {
		threshold = DefaultUnreadThreshold
	}
	return &Notifications{fetcher: fetcher, store: st, pool: pool, now: now, unreadThreshold: threshold}
}

// SummariesForWeek returns the notifications of week w with one of types,
// restricted to r if given, newest first. A cached week is always served
// from the cache.
func (n *Notifications) SummariesForWeek(ctx context.Context, w week.Week, types []donki.NotificationType, r *week.DateRange) ([]donki.NotificationSummary, error) {
	cached, err := n.store.NotificationSummaries(ctx, w, types, r)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	all, err := n.load(ctx, w, true)
	if err != nil {
		return nil, err
	}
	allTypes := donki.IsAllNotificationTypes(types)
	wanted := make(map[donki.NotificationType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	out := make([]donki.NotificationSummary, 0, len(all))
	for _, s := range all {
		if r != nil && !r.Contains(s.Time) {
			continue
		}
		if !allTypes && !wanted[s.Type] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateWeek fetches week w, stores it before returning and returns the
// notifications that were not cached before.
func (n *Notifications) UpdateWeek(ctx context.Context, w week.Week) ([]donki.Notification, error) {
	loadTime := n.now()
	fresh, err := n.fetch(ctx, w)
	if err != nil {
		return nil, err
	}
	toCache, _, err := n.newNotifications(ctx, w, fresh, loadTime)
	if err != nil {
		return nil, err
	}
	return n.store.CacheWeek(ctx, w, toCache, loadTime)
}

// load fetches week w and returns the union of what was cached and what is
// new, newest first. With async the new notifications are stored on the
// pool.
func (n *Notifications) load(ctx context.Context, w week.Week, async bool) ([]donki.NotificationSummary, error) {
	loadTime := n.now()
	fresh, err := n.fetch(ctx, w)
	if err != nil {
		return nil, err
	}
	toCache, existing, err := n.newNotifications(ctx, w, fresh, loadTime)
	if err != nil {
		return nil, err
	}

	if async {
		n.pool.Go(work.TypeWriteThrough, fmt.Sprintf("store notification week %s", w), func(ctx context.Context) error {
			_, err := n.store.CacheWeek(ctx, w, toCache, loadTime)
			return err
		})
	} else if _, err := n.store.CacheWeek(ctx, w, toCache, loadTime); err != nil {
		return nil, err
	}

	all := make([]donki.NotificationSummary, 0, len(existing)+len(toCache))
	all = append(all, existing...)
	for _, nt := range toCache {
		all = append(all, nt.Summary())
	}
	donki.SortNotificationSummariesNewestFirst(all)
	return all, nil
}

// newNotifications splits fetched into those not yet cached, with their
// read state decided, and the summaries already in the cache.
func (n *Notifications) newNotifications(ctx context.Context, w week.Week, fetched []donki.Notification, loadTime time.Time) ([]donki.Notification, []donki.NotificationSummary, error) {
	existing, err := n.store.NotificationSummaries(ctx, w, donki.NotificationTypes(), nil)
	if err != nil {
		return nil, nil, err
	}
	known := make(map[donki.NotificationID]bool, len(existing))
	for _, s := range existing {
		known[s.ID] = true
	}
	var toCache []donki.Notification
	for _, nt := range fetched {
		if known[nt.ID] {
			continue
		}
		nt.Read = loadTime.Sub(nt.Time) > n.unreadThreshold
		toCache = append(toCache, nt)
	}
	return toCache, existing, nil
}

func (n *Notifications) fetch(ctx context.Context, w week.Week) ([]donki.Notification, error) {
	v, err, shared := n.group.Do(w.String(), func() (any, error) {
		return n.fetcher.Notifications(ctx, w)
	})
	if shared {
		metrics.CoalescedFetch("notifications")
		if donki.IsCancellation(err) && ctx.Err() == nil {
			return n.fetcher.Notifications(ctx, w)
		}
	}
	if err != nil {
		return nil, err
	}
	return v.([]donki.Notification), nil
}

// ByIDAndMarkRead returns cached notification id and marks it read in the
// background. The returned notification has the read state it had before.
func (n *Notifications) ByIDAndMarkRead(ctx context.Context, id donki.NotificationID) (donki.Notification, error) {
	nt, ok, err := n.store.Notification(ctx, id)
	if err != nil {
		if !donki.IsCancellation(err) {
			log.Error("Failed to get notification", "id", id, "error", err)
		}
		return donki.Notification{}, err
	}
	if !ok {
		return donki.Notification{}, fmt.Errorf("notification %s does not exist in the database: %w", id, donki.ErrNotFound)
	}
	if !nt.Read {
		n.pool.Submit(work.TypeMarkRead, work.PriorityHigh, fmt.Sprintf("mark %s read", id), func(ctx context.Context) error {
			return n.store.MarkRead(ctx, id)
		})
	}
	return nt, nil
}

// MarkAllRead marks every cached notification read.
func (n *Notifications) MarkAllRead(ctx context.Context) (int, error) {
	return n.store.MarkAllRead(ctx)
}

// UnreadCount returns the number of unread notifications, or 0 if the
// cache cannot be read.
func (n *Notifications) UnreadCount(ctx context.Context) int {
	count, err := n.store.UnreadCount(ctx)
	if err != nil {
		if !donki.IsCancellation(err) {
			log.Error("Failed to count unread notifications", "error", err)
		}
		return 0
	}
	return count
}

// WeeksNeedingRefresh returns the cached weeks that may have changed,
// restricted to r if given.
func (n *Notifications) WeeksNeedingRefresh(ctx context.Context, r *week.DateRange) ([]refresh.CachedWeek, error) {
	return n.store.WeeksNeedingRefresh(ctx, r)
}

// NeedToRefreshState streams the refresh state of the filter until ctx is
// done. Empty types never need a refresh.
func (n *Notifications) NeedToRefreshState(ctx context.Context, types []donki.NotificationType, r *week.DateRange) <-chan refresh.State {
	if len(types) == 0 {
		return constantState(refresh.DontNeedToRefresh)
	}
	return watchState(ctx, n.store, n.now, func(ctx context.Context) ([]refresh.CachedWeek, error) {
		return n.store.WeeksNeedingRefresh(ctx, r)
	})
}

// Subscribe exposes the store's change feed.
func (n *Notifications) Subscribe() <-chan store.Change { return n.store.Subscribe() }

// Unsubscribe stops a change feed subscription.
func (n *Notifications) Unsubscribe(ch <-chan store.Change) { n.store.Unsubscribe(ch) }
