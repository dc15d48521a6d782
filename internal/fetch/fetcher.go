// Package fetch is the network side of the cache: it retrieves one week of
// one DONKI partition per call.
//
// Results are sorted oldest first and trimmed to the requested week, since
// the API does not reliably respect the requested bounds. Failures are
// classified into the donki.NetworkError family; caller cancellation is
// returned unwrapped.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/week"
)

// DefaultBaseURL is the DONKI API root.
const DefaultBaseURL = "https://api.nasa.gov/DONKI/"

const userAgent = "spaceweather/0.1 (+https://github.com/abelbrown/spaceweather)"

var log = logging.For("fetch")

var errKeyChanged = errors.New("api key changed")

// Options configures a Fetcher. Zero values select defaults.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RatePerHour paces requests client side. 0 disables pacing.
	RatePerHour int
	Burst       int
	Events      *otel.Logger
}

// Stats are the rate limit headers of the most recent response.
type Stats struct {
	RateLimit         int
	RemainingRequests int
	Known             bool
}

// Fetcher retrieves DONKI data over HTTP.
type Fetcher struct {
	client  *http.Client
	baseURL *url.URL
	keys    *KeyStore
	limiter *rate.Limiter
	events  *otel.Logger

	rateLimit atomic.Int64 // -1 until a header is seen
	remaining atomic.Int64
}

// NewFetcher creates a Fetcher using keys for authentication.
func NewFetcher(keys *KeyStore, opts Options) (*Fetcher, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerHour > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(opts.RatePerHour)), burst)
	}

	f := &Fetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: u,
		keys:    keys,
		limiter: limiter,
		events:  opts.Events,
	}
	f.rateLimit.Store(-1)
	f.remaining.Store(-1)
	return f, nil
}

// Events fetches all events of type t in week w, oldest first.
func (f *Fetcher) Events(ctx context.Context, w week.Week, t donki.EventType) ([]donki.Event, error) {
	op := fmt.Sprintf("get %s events for week %s", t, w)
	start := time.Now()
	f.events.Emit(otel.Event{Kind: otel.KindFetchStart, Comp: "fetch", Partition: "events", Week: w.String(), Type: string(t)})

	body, err := f.get(ctx, op, string(t), w, nil)
	var events []donki.Event
	if err == nil {
		events, err = donki.DecodeEvents(t, body)
		if err != nil {
			err = donki.NewTransportError(op, err)
		}
	}
	f.finish("events", w, string(t), start, len(events), err)
	if err != nil {
		return nil, err
	}

	donki.SortEventsByTime(events)
	kept := events[:0]
	for _, e := range events {
		if !w.Contains(e.Time) {
			log.Warn("Event does not belong in requested week, dropping", "id", e.ID, "time", e.Time, "week", w)
			f.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindFetchDropped, Comp: "fetch", Week: w.String(), Msg: string(e.ID)})
			continue
		}
		kept = append(kept, e)
	}
	return kept, nil
}

// Notifications fetches all notifications issued in week w, oldest first.
func (f *Fetcher) Notifications(ctx context.Context, w week.Week) ([]donki.Notification, error) {
	op := fmt.Sprintf("get notifications for week %s", w)
	start := time.Now()
	f.events.Emit(otel.Event{Kind: otel.KindFetchStart, Comp: "fetch", Partition: "notifications", Week: w.String()})

	body, err := f.get(ctx, op, "notifications", w, url.Values{"type": {"all"}})
	var ns []donki.Notification
	if err == nil {
		ns, err = donki.DecodeNotifications(body)
		if err != nil {
			err = donki.NewTransportError(op, err)
		}
	}
	f.finish("notifications", w, "", start, len(ns), err)
	if err != nil {
		return nil, err
	}

	donki.SortNotificationsByTime(ns)
	kept := ns[:0]
	for _, n := range ns {
		if !w.Contains(n.Time) {
			log.Warn("Notification does not belong in requested week, dropping", "id", n.ID, "time", n.Time, "week", w)
			f.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindFetchDropped, Comp: "fetch", Week: w.String(), Msg: string(n.ID)})
			continue
		}
		kept = append(kept, n)
	}
	return kept, nil
}

// Stats returns the rate limit reported by the last response.
func (f *Fetcher) Stats() Stats {
	limit, remaining := f.rateLimit.Load(), f.remaining.Load()
	if limit < 0 && remaining < 0 {
		return Stats{}
	}
	return Stats{RateLimit: int(limit), RemainingRequests: int(remaining), Known: true}
}

func (f *Fetcher) finish(partition string, w week.Week, typ string, start time.Time, count int, err error) {
	d := time.Since(start)
	if donki.IsCancellation(err) {
		metrics.ObserveFetch(partition, "cancelled", d)
		return
	}
	metrics.ObserveFetch(partition, metrics.Outcome(err), d)
	if err != nil {
		log.Error("Fetch failed", "partition", partition, "week", w, "type", typ, "error", err)
		f.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindFetchError, Comp: "fetch", Partition: partition, Week: w.String(), Type: typ, Dur: d, Err: err.Error()})
		return
	}
	log.Debug("Fetched week", "partition", partition, "week", w, "type", typ, "count", count, "duration", d)
	f.events.Emit(otel.Event{Kind: otel.KindFetchComplete, Comp: "fetch", Partition: partition, Week: w.String(), Type: typ, Dur: d, Count: count})
}

// get performs the request with the current key. If the key changes while
// the request is in flight, the request is cancelled and retried with the
// new key; the last key wins.
func (f *Fetcher) get(ctx context.Context, op, path string, w week.Week, extra url.Values) ([]byte, error) {
	for {
		key, changed := f.keys.Current()
		attemptCtx, cancel := context.WithCancelCause(ctx)
		done := make(chan struct{})
		go func() {
			select {
			case <-changed:
				cancel(errKeyChanged)
			case <-done:
			}
		}()

		body, err := f.do(attemptCtx, op, path, w, extra, key)
		close(done)
		restart := err != nil && errors.Is(context.Cause(attemptCtx), errKeyChanged) && ctx.Err() == nil
		cancel(nil)

		if restart {
			log.Info("API key changed, restarting request", "op", op)
			f.events.Emit(otel.Event{Kind: otel.KindKeyChanged, Comp: "fetch", Week: w.String(), Msg: op})
			continue
		}
		return body, err
	}
}

func (f *Fetcher) do(ctx context.Context, op, path string, w week.Week, extra url.Values, key string) ([]byte, error) {
	// Check context before starting
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := f.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, donki.NewTransportError(op, err)
	}

	u := f.baseURL.JoinPath(path)
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("startDate", w.FirstDay().Format("2006-01-02"))
	q.Set("endDate", w.LastDay().Format("2006-01-02"))
	q.Set("api_key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, donki.NewTransportError(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, donki.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	f.recordRateLimit(resp.Header)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
		return nil, donki.NewHTTPError(op, resp.StatusCode, reason)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, donki.NewTransportError(op, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (f *Fetcher) recordRateLimit(h http.Header) {
	limit, errL := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	remaining, errR := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if errL != nil || errR != nil {
		return
	}
	f.rateLimit.Store(int64(limit))
	f.remaining.Store(int64(remaining))
	metrics.SetRateLimit(limit, remaining)
}
