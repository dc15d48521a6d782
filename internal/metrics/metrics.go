// Package metrics exposes Prometheus instrumentation for the fetch, cache
// and refresh paths.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abelbrown/spaceweather/internal/logging"
)

var (
	registerOnce sync.Once

	fetchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_fetch_requests_total",
		Help: "DONKI API requests by partition and outcome.",
	}, []string{"partition", "outcome"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "donki_fetch_duration_seconds",
		Help:    "Duration of DONKI API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"partition"})

	rateLimitRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "donki_rate_limit_remaining",
		Help: "Value of the last X-RateLimit-Remaining header.",
	})

	rateLimit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "donki_rate_limit",
		Help: "Value of the last X-RateLimit-Limit header.",
	})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_cache_lookups_total",
		Help: "Week cache lookups by partition and result (hit, miss, stale).",
	}, []string{"partition", "result"})

	cacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_cache_writes_total",
		Help: "Week cache writes by partition and outcome.",
	}, []string{"partition", "outcome"})

	coalescedFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_coalesced_fetches_total",
		Help: "Fetches that joined an identical in-flight request.",
	}, []string{"partition"})

	storeRecreations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_store_recreations_total",
		Help: "Cache databases recreated after external deletion.",
	}, []string{"partition"})

	mediatorRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_mediator_refreshes_total",
		Help: "Remote mediator refresh runs by partition and outcome.",
	}, []string{"partition", "outcome"})

	backgroundUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "donki_background_updates_total",
		Help: "Background update runs by outcome (ok, error, skipped).",
	}, []string{"outcome"})
)

// MustRegister registers the package collectors with registerer once.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			fetchRequests,
			fetchDuration,
			rateLimitRemaining,
			rateLimit,
			cacheLookups,
			cacheWrites,
			coalescedFetches,
			storeRecreations,
			mediatorRefreshes,
			backgroundUpdates,
		)
	})
}

// ObserveFetch records one API request.
func ObserveFetch(partition, outcome string, d time.Duration) {
	fetchRequests.WithLabelValues(partition, outcome).Inc()
	fetchDuration.WithLabelValues(partition).Observe(d.Seconds())
}

// SetRateLimit records the rate limit headers of the last response.
func SetRateLimit(limit, remaining int) {
	rateLimit.Set(float64(limit))
	rateLimitRemaining.Set(float64(remaining))
}

// CacheLookup records a week lookup result.
func CacheLookup(partition, result string) {
	cacheLookups.WithLabelValues(partition, result).Inc()
}

// CacheWrite records a week write.
func CacheWrite(partition, outcome string) {
	cacheWrites.WithLabelValues(partition, outcome).Inc()
}

// CoalescedFetch records a fetch that shared another caller's request.
func CoalescedFetch(partition string) {
	coalescedFetches.WithLabelValues(partition).Inc()
}

// StoreRecreated records a database recreation.
func StoreRecreated(partition string) {
	storeRecreations.WithLabelValues(partition).Inc()
}

// MediatorRefresh records a remote mediator refresh.
func MediatorRefresh(partition, outcome string) {
	mediatorRefreshes.WithLabelValues(partition, outcome).Inc()
}

// BackgroundUpdate records a background update run.
func BackgroundUpdate(outcome string) {
	backgroundUpdates.WithLabelValues(outcome).Inc()
}

// Outcome maps an error to a label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// StartServer serves /metrics, plus any extra handlers keyed by pattern,
// on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, gatherer prometheus.Gatherer, extra map[string]http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server shutdown failed", "error", err)
		}
	}()

	go func() {
		logging.Info("Metrics server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server stopped", "error", err)
		}
	}()
}
