package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/week"
)

var testWeek = week.FromDate(2022, 1, 17)

func newTestFetcher(t *testing.T, handler http.HandlerFunc, keys *KeyStore) *Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	if keys == nil {
		keys = NewKeyStore("")
	}
	f, err := NewFetcher(keys, Options{BaseURL: server.URL + "/DONKI/", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}
	return f
}

func TestEventsRequestAndOrdering(t *testing.T) {
	var gotPath, gotStart, gotEnd, gotKey string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStart = r.URL.Query().Get("startDate")
		gotEnd = r.URL.Query().Get("endDate")
		gotKey = r.URL.Query().Get("api_key")
		w.Header().Set("X-RateLimit-Limit", "1000")
		w.Header().Set("X-RateLimit-Remaining", "997")
		w.Write([]byte(`[
			{"flrID":"2022-01-21T04:02:00-FLR-001","beginTime":"2022-01-21T04:02Z","classType":"M1.0"},
			{"flrID":"2022-01-17T00:00:00-FLR-001","beginTime":"2022-01-17T00:00Z","classType":"C2.0"},
			{"flrID":"2022-01-24T00:00:00-FLR-001","beginTime":"2022-01-24T00:00Z","classType":"X1.0"},
			{"flrID":"2022-01-16T23:59:00-FLR-001","beginTime":"2022-01-16T23:59Z","classType":"B1.0"}
		]`))
	}, nil)

	events, err := f.Events(context.Background(), testWeek, donki.SolarFlare)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if gotPath != "/DONKI/FLR" {
		t.Errorf("path = %q", gotPath)
	}
	if gotStart != "2022-01-17" || gotEnd != "2022-01-23" {
		t.Errorf("dates = %s..%s", gotStart, gotEnd)
	}
	if gotKey != DefaultAPIKey {
		t.Errorf("api_key = %q", gotKey)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events inside the week, got %d", len(events))
	}
	if events[0].ID != "2022-01-17T00:00:00-FLR-001" || events[1].ID != "2022-01-21T04:02:00-FLR-001" {
		t.Errorf("events not sorted ascending: %v, %v", events[0].ID, events[1].ID)
	}

	stats := f.Stats()
	if !stats.Known || stats.RateLimit != 1000 || stats.RemainingRequests != 997 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestEmptyBodyIsEmptyList(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}, nil)

	events, err := f.Events(context.Background(), testWeek, donki.CoronalMassEjection)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	if f.Stats().Known {
		t.Error("stats should be unknown without headers")
	}
}

func TestNotificationsRequest(t *testing.T) {
	var gotPath, gotType string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.URL.Query().Get("type")
		w.Write([]byte(`[
			{"messageID":"20220119-AL-001","messageType":"FLR","messageIssueTime":"2022-01-19T10:00Z","messageURL":"u","messageBody":"## Message Type: Space Weather Notification - Flare\n## Summary:\n\nM-class flare"},
			{"messageID":"20220118-AL-001","messageType":"Report","messageIssueTime":"2022-01-18T10:00Z","messageURL":"u","messageBody":"weekly"}
		]`))
	}, nil)

	ns, err := f.Notifications(context.Background(), testWeek)
	if err != nil {
		t.Fatalf("Notifications failed: %v", err)
	}
	if gotPath != "/DONKI/notifications" || gotType != "all" {
		t.Errorf("path = %q type = %q", gotPath, gotType)
	}
	if len(ns) != 2 || ns[0].ID != "20220118-AL-001" {
		t.Fatalf("unexpected notifications: %+v", ns)
	}
	if ns[1].Title != "Flare" || ns[1].Subtitle != "M-class flare" {
		t.Errorf("title/subtitle = %q / %q", ns[1].Title, ns[1].Subtitle)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   donki.NetworkErrorKind
	}{
		{http.StatusForbidden, donki.InvalidAPIKey},
		{http.StatusTooManyRequests, donki.TooManyRequests},
		{http.StatusInternalServerError, donki.HTTPError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, nil)
			_, err := f.Events(context.Background(), testWeek, donki.GeomagneticStorm)
			var ne *donki.NetworkError
			if !errors.As(err, &ne) {
				t.Fatalf("expected NetworkError, got %v", err)
			}
			if ne.Kind != tt.want {
				t.Errorf("kind = %v, want %v", ne.Kind, tt.want)
			}
		})
	}
}

func TestMalformedBodyIsNetworkError(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}, nil)
	_, err := f.Events(context.Background(), testWeek, donki.GeomagneticStorm)
	var ne *donki.NetworkError
	if !errors.As(err, &ne) || ne.Kind != donki.TransportError {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestTransportError(t *testing.T) {
	f, err := NewFetcher(NewKeyStore(""), Options{BaseURL: "http://127.0.0.1:1/DONKI/", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}
	_, err = f.Events(context.Background(), testWeek, donki.GeomagneticStorm)
	var ne *donki.NetworkError
	if !errors.As(err, &ne) || ne.Kind != donki.TransportError {
		t.Errorf("expected transport error, got %v", err)
	}
	if donki.IsCancellation(err) {
		t.Error("transport error must not look like a cancellation")
	}
}

func TestCancellationIsNotWrapped(t *testing.T) {
	started := make(chan struct{})
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := f.Events(ctx, testWeek, donki.CoronalMassEjection)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var ne *donki.NetworkError
	if errors.As(err, &ne) {
		t.Error("cancellation must not be wrapped as NetworkError")
	}
}

func TestKeyChangeRestartsRequest(t *testing.T) {
	keys := NewKeyStore("old-key")
	var calls atomic.Int32
	firstStarted := make(chan struct{})
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		key := r.URL.Query().Get("api_key")
		if n == 1 {
			if key != "old-key" {
				t.Errorf("first request key = %q", key)
			}
			close(firstStarted)
			<-r.Context().Done()
			return
		}
		if key != "new-key" {
			t.Errorf("restarted request key = %q", key)
		}
		w.Write([]byte(`[]`))
	}, keys)

	go func() {
		<-firstStarted
		keys.Set("new-key")
	}()

	events, err := f.Events(context.Background(), testWeek, donki.SolarFlare)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
}

func TestKeyStore(t *testing.T) {
	k := NewKeyStore("")
	key, changed := k.Current()
	if key != DefaultAPIKey || k.IsCustom() {
		t.Errorf("expected default key, got %q", key)
	}

	k.Set("")
	select {
	case <-changed:
		t.Error("setting the same key should not signal")
	default:
	}

	k.Set("mine")
	select {
	case <-changed:
	default:
		t.Error("changing the key should close the channel")
	}
	if key, _ := k.Current(); key != "mine" || !k.IsCustom() {
		t.Errorf("expected custom key, got %q", key)
	}
}

func TestRateLimiterPaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	// 3600/hour is one per second with burst 1: the second call waits.
	f, err := NewFetcher(NewKeyStore(""), Options{BaseURL: server.URL, RatePerHour: 3600, Burst: 1})
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := f.Events(ctx, testWeek, donki.SolarFlare); err != nil {
		t.Fatalf("first Events failed: %v", err)
	}
	_, err = f.Events(ctx, testWeek, donki.SolarFlare)
	if err == nil {
		t.Error("second call should not fit in the deadline")
	}
}
