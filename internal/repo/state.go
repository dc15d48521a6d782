// Package repo combines the network and the cache. Callers ask for a week
// of summaries and the repository decides whether the cache can answer or
// the network must, writing fetched weeks back in the background.
package repo

import (
	"context"
	"time"

	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/store"
)

var log = logging.For("repo")

// Options configures a repository. Zero values select defaults.
type Options struct {
	Now refresh.Clock
	// UnreadThreshold applies to notifications: a newly stored
	// notification older than this at load time is stored as read.
	UnreadThreshold time.Duration
}

// DefaultUnreadThreshold is the notification unread window.
const DefaultUnreadThreshold = 12 * time.Hour

type changeSource interface {
	Subscribe() <-chan store.Change
	Unsubscribe(<-chan store.Change)
}

// watchState evaluates the refresh state on every store change and when a
// cached-recently week expires, sending each distinct state on the
// returned channel. The channel is closed when ctx is done.
func watchState(ctx context.Context, src changeSource, now refresh.Clock, weeks func(context.Context) ([]refresh.CachedWeek, error)) <-chan refresh.State {
	out := make(chan refresh.State, 1)
	changes := src.Subscribe()

	go func() {
		defer close(out)
		defer src.Unsubscribe(changes)

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		last := refresh.State(-1)
		for {
			ws, err := weeks(ctx)
			if ctx.Err() != nil {
				return
			}
			state := refresh.DontNeedToRefresh
			if err != nil {
				log.Error("Failed to evaluate refresh state", "error", err)
			} else {
				state = refresh.StateOf(ws)
			}

			if state != last {
				select {
				case out <- state:
					last = state
				case <-ctx.Done():
					return
				}
			}

			var expired <-chan time.Time
			if at, ok := refresh.NextTransition(ws, now()); ok && err == nil {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(at.Sub(now()))
				expired = timer.C
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			case <-expired:
			}
		}
	}()
	return out
}

// constantState is the stream for filters that can never need a refresh.
func constantState(s refresh.State) <-chan refresh.State {
	out := make(chan refresh.State, 1)
	out <- s
	close(out)
	return out
}
