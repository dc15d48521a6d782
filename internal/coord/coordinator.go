// Package coord runs the background notification update: it refreshes the
// stale notification weeks periodically and reports notifications that
// arrived unread.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/week"
)

var log = logging.For("coord")

// Update intervals.
const (
	DefaultInterval = 30 * time.Minute
	MinInterval     = 15 * time.Minute
	MaxInterval     = 24 * time.Hour
)

// weekUpdateTimeout bounds a single week refresh.
const weekUpdateTimeout = time.Minute

// maxConcurrentUpdates limits parallel week refreshes.
const maxConcurrentUpdates = 4

// ErrUpdateInProgress is returned by Update while another update runs.
var ErrUpdateInProgress = errors.New("background update already in progress")

// updater is the part of the notifications repository the coordinator uses.
type updater interface {
	WeeksNeedingRefresh(ctx context.Context, r *week.DateRange) ([]refresh.CachedWeek, error)
	UpdateWeek(ctx context.Context, w week.Week) ([]donki.Notification, error)
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Now      refresh.Clock
	Events   *otel.Logger
	// OnUpdate is called after every periodic update started by Start.
	OnUpdate func(unread []donki.NotificationSummary, err error)
}

// Coordinator manages the periodic background update.
// Uses context cancellation as the only stop mechanism.
type Coordinator struct {
	notifications updater
	interval      time.Duration
	now           refresh.Clock
	events        *otel.Logger
	onUpdate      func([]donki.NotificationSummary, error)

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewCoordinator creates a Coordinator for the notifications repository.
func NewCoordinator(notifications updater, opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = refresh.Now
	}
	return &Coordinator{
		notifications: notifications,
		interval:      ClampInterval(opts.Interval),
		now:           now,
		events:        opts.Events,
		onUpdate:      opts.OnUpdate,
	}
}

// ClampInterval maps d into [MinInterval, MaxInterval]; 0 selects the
// default.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// Interval returns the effective update interval.
func (c *Coordinator) Interval() time.Duration { return c.interval }

// Update refreshes every notification week that needs it, plus the current
// week, and returns the notifications that were stored unread, newest
// first. Weeks loaded within the last hour are skipped unless
// includeCachedRecently is set. Weeks that failed are reported in the
// joined error alongside the notifications of the weeks that succeeded.
func (c *Coordinator) Update(ctx context.Context, includeCachedRecently bool) ([]donki.NotificationSummary, error) {
	if !c.running.CompareAndSwap(false, true) {
		log.Debug("Update already in progress")
		c.events.Emit(otel.Event{Kind: otel.KindUpdateSkipped, Comp: "coord"})
		metrics.BackgroundUpdate("skipped")
		return nil, ErrUpdateInProgress
	}
	defer c.running.Store(false)

	start := time.Now()
	c.events.Emit(otel.Event{Kind: otel.KindUpdateStart, Comp: "coord"})
	unread, err := c.update(ctx, includeCachedRecently)
	switch {
	case donki.IsCancellation(err) && ctx.Err() != nil:
		metrics.BackgroundUpdate("cancelled")
		return nil, ctx.Err()
	case err != nil:
		metrics.BackgroundUpdate("error")
		log.Error("Background update failed", "error", err)
		c.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindUpdateComplete, Comp: "coord", Dur: time.Since(start), Count: len(unread), Err: err.Error()})
	default:
		metrics.BackgroundUpdate("ok")
		log.Info("Background update complete", "new_unread", len(unread), "duration", time.Since(start))
		c.events.Emit(otel.Event{Kind: otel.KindUpdateComplete, Comp: "coord", Dur: time.Since(start), Count: len(unread)})
	}
	return unread, err
}

func (c *Coordinator) update(ctx context.Context, includeCachedRecently bool) ([]donki.NotificationSummary, error) {
	cached, err := c.notifications.WeeksNeedingRefresh(ctx, nil)
	if err != nil {
		return nil, err
	}
	if !includeCachedRecently {
		cached = refresh.ExcludeCachedRecently(cached)
	}
	weeks := make([]week.Week, 0, len(cached)+1)
	current := week.Current(c.now())
	weeks = append(weeks, current)
	for _, cw := range cached {
		if !cw.Week.Equal(current) {
			weeks = append(weeks, cw.Week)
		}
	}
	log.Debug("Updating notification weeks", "count", len(weeks))

	var (
		mu     sync.Mutex
		unread []donki.NotificationSummary
		errs   []error
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentUpdates)
	for _, w := range weeks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			weekCtx, cancel := context.WithTimeout(ctx, weekUpdateTimeout)
			defer cancel()

			added, err := c.notifications.UpdateWeek(weekCtx, w)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("update week %s: %w", w, err))
				return nil // never fail the group, errors are reported per week
			}
			for _, n := range added {
				if !n.Read {
					unread = append(unread, n.Summary())
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	donki.SortNotificationSummariesNewestFirst(unread)
	return unread, errors.Join(errs...)
}

// Start runs Update immediately and then every interval until ctx is
// cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.runOnce(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runOnce(ctx)
			}
		}
	}()
}

func (c *Coordinator) runOnce(ctx context.Context) {
	unread, err := c.Update(ctx, true)
	if errors.Is(err, ErrUpdateInProgress) || ctx.Err() != nil {
		return
	}
	if c.onUpdate != nil {
		c.onUpdate(unread, err)
	}
}

// Wait blocks until the background goroutine exits.
// Call after cancelling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
