package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func fakeDONKI(t *testing.T) *atomic.Int32 {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.URL.Path {
		case "/DONKI/FLR":
			w.Write([]byte(`[{"flrID":"2022-01-18T04:02:00-FLR-001","beginTime":"2022-01-18T04:02Z","classType":"M1.0"}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("DONKI_DATA_DIR", dir)
	t.Setenv("DONKI_BASE_URL", srv.URL+"/DONKI/")
	return &requests
}

func TestEventsCommandFetchesThenServesCache(t *testing.T) {
	requests := fakeDONKI(t)

	out, err := runCmd(t, "events", "--week", "2022-01-18", "--types", "flr")
	if err != nil {
		t.Fatalf("events failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2022-01-18T04:02:00-FLR-001") || !strings.Contains(out, "class M1.0") {
		t.Errorf("output missing the flare:\n%s", out)
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}

	out, err = runCmd(t, "events", "--week", "2022-01-18", "--types", "FLR")
	if err != nil {
		t.Fatalf("second events failed: %v", err)
	}
	if !strings.Contains(out, "2022-01-18T04:02:00-FLR-001") {
		t.Errorf("cached output missing the flare:\n%s", out)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests after cached listing = %d, want 1", got)
	}

	out, err = runCmd(t, "event", "2022-01-18T04:02:00-FLR-001")
	if err != nil {
		t.Fatalf("event failed: %v", err)
	}
	if !strings.Contains(out, `"classType": "M1.0"`) {
		t.Errorf("event output missing payload:\n%s", out)
	}
}

func TestEventsCommandRejectsBadFlags(t *testing.T) {
	fakeDONKI(t)
	if _, err := runCmd(t, "events", "--types", "NOPE"); err == nil {
		t.Error("unknown type accepted")
	}
	if _, err := runCmd(t, "events", "--from", "2022-01-01"); err == nil {
		t.Error("--from without --to accepted")
	}
}

func TestKeyCommands(t *testing.T) {
	fakeDONKI(t)
	out, err := runCmd(t, "key")
	if err != nil {
		t.Fatalf("key failed: %v", err)
	}
	if !strings.Contains(out, "DEMO_KEY") {
		t.Errorf("key without a configured key:\n%s", out)
	}

	if _, err := runCmd(t, "key", "set", "secret"); err != nil {
		t.Fatalf("key set failed: %v", err)
	}
	if out, _ := runCmd(t, "key"); !strings.Contains(out, "personal API key") {
		t.Errorf("key after set:\n%s", out)
	}
	data, err := os.ReadFile(filepath.Join(os.Getenv("DONKI_DATA_DIR"), "config.json"))
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), `"api_key": "secret"`) {
		t.Errorf("config missing key:\n%s", data)
	}

	if _, err := runCmd(t, "key", "clear"); err != nil {
		t.Fatalf("key clear failed: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(os.Getenv("DONKI_DATA_DIR"), "config.json"))
	if strings.Contains(string(data), "api_key") {
		t.Errorf("key not cleared:\n%s", data)
	}
}

func TestReadTailLinesFiltersAndKeepsLast(t *testing.T) {
	lines := strings.Join([]string{
		`{"t":"2022-01-20T12:00:00Z","level":"info","kind":"cache.hit","comp":"store"}`,
		`not json`,
		`{"t":"2022-01-20T12:00:01Z","level":"error","kind":"fetch.error","comp":"fetch","err":"boom"}`,
		`{"t":"2022-01-20T12:00:02Z","level":"info","kind":"cache.miss","comp":"store","week":"2022-01-16"}`,
		`{"t":"2022-01-20T12:00:03Z","level":"info","kind":"cache.write","comp":"store","dur_ms":1.5}`,
	}, "\n")

	f := logFilter{kind: "cache"}
	got := readTailLines(strings.NewReader(lines), 2, f.match)
	if len(got) != 2 || got[0].ev.Kind != "cache.miss" || got[1].ev.Kind != "cache.write" {
		t.Fatalf("got %+v, want the last two cache events", got)
	}
	if s := formatEvent(got[0].ev); !strings.Contains(s, "week=2022-01-16") {
		t.Errorf("formatted line missing week: %q", s)
	}
	if s := formatEvent(got[1].ev); !strings.Contains(s, "(1.5ms)") {
		t.Errorf("formatted line missing duration: %q", s)
	}

	f = logFilter{level: "warn", minLevel: levelRank("warn")}
	got = readTailLines(strings.NewReader(lines), 10, f.match)
	if len(got) != 1 || got[0].ev.Err != "boom" {
		t.Errorf("level filter got %+v, want the fetch error", got)
	}
}

func TestWhenIncludesAbsoluteTime(t *testing.T) {
	s := when(time.Date(2022, 1, 18, 4, 2, 0, 0, time.UTC))
	if !strings.Contains(s, "2022-01-18 04:02Z") || !strings.Contains(s, "ago") {
		t.Errorf("when() = %q", s)
	}
}
