package paging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/spaceweather/internal/week"
)

var (
	testNow     = time.Date(2022, 1, 20, 12, 0, 0, 0, time.UTC)
	testCurrent = week.Current(testNow)
)

func fixedClock() time.Time { return testNow }

type loadCall struct {
	week            week.Week
	r               *week.DateRange
	refreshIfNeeded bool
}

type recordingLoader struct {
	mu    sync.Mutex
	calls []loadCall
	items map[week.Week][]string
	err   error
}

func (l *recordingLoader) load(ctx context.Context, w week.Week, r *week.DateRange, refreshIfNeeded bool) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, loadCall{week: w, r: r, refreshIfNeeded: refreshIfNeeded})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.items[w], nil
}

func (l *recordingLoader) lastCall(t *testing.T) loadCall {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		t.Fatal("loader was not called")
	}
	return l.calls[len(l.calls)-1]
}

func newSource(l *recordingLoader, r *week.DateRange) *Source[string] {
	return NewSource(l.load, r, false, SourceOptions{Now: fixedClock, EmptyPageDelay: 50 * time.Millisecond})
}

func TestLoadFutureKeyIsInvalid(t *testing.T) {
	l := &recordingLoader{}
	next := testCurrent.Next()
	res, err := newSource(l, nil).Load(context.Background(), LoadParams{Kind: Append, Key: &next})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Kind != ResultInvalid {
		t.Errorf("Kind = %v, want ResultInvalid", res.Kind)
	}
	if len(l.calls) != 0 {
		t.Errorf("loader called %d times for a future week", len(l.calls))
	}
}

func TestLoadInitialPageIsCurrentWeek(t *testing.T) {
	l := &recordingLoader{items: map[week.Week][]string{testCurrent: {"a", "b"}}}
	res, err := newSource(l, nil).Load(context.Background(), LoadParams{Kind: Refresh})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Kind != ResultPage || len(res.Data) != 2 {
		t.Fatalf("got %+v, want page with 2 items", res)
	}
	if res.PrevKey != nil {
		t.Errorf("PrevKey = %v, want nil for the current week", res.PrevKey)
	}
	if res.NextKey == nil || !res.NextKey.Equal(testCurrent.Prev()) {
		t.Errorf("NextKey = %v, want %v", res.NextKey, testCurrent.Prev())
	}
	call := l.lastCall(t)
	if !call.week.Equal(testCurrent) || call.r != nil || call.refreshIfNeeded {
		t.Errorf("loader call = %+v, want current week, no range, no refresh", call)
	}
}

func TestLoadRespectsDateRange(t *testing.T) {
	older := testCurrent.Prev()
	// The range ends mid-week in the older week and starts inside it.
	r := week.DateRange{Start: older.Start().Add(24 * time.Hour), End: older.Start().Add(72 * time.Hour)}
	l := &recordingLoader{}
	src := newSource(l, &r)

	res, err := src.Load(context.Background(), LoadParams{Kind: Refresh})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	call := l.lastCall(t)
	if !call.week.Equal(older) {
		t.Errorf("initial week = %v, want %v", call.week, older)
	}
	if call.r == nil || !call.r.Equal(r) {
		t.Errorf("range = %v, want %v", call.r, r)
	}
	if res.PrevKey != nil || res.NextKey != nil {
		t.Errorf("keys = %v/%v, want none for a range inside one week", res.PrevKey, res.NextKey)
	}
}

func TestAppendAndPrependRefreshIfNeeded(t *testing.T) {
	l := &recordingLoader{items: map[week.Week][]string{}}
	src := newSource(l, nil)
	key := testCurrent.Prev()
	for _, kind := range []LoadKind{Append, Prepend} {
		if _, err := src.Load(context.Background(), LoadParams{Kind: kind, Key: &key}); err != nil {
			t.Fatalf("Load(%v) failed: %v", kind, err)
		}
		if !l.lastCall(t).refreshIfNeeded {
			t.Errorf("Load(%v) did not allow refresh", kind)
		}
	}
}

func TestLoadErrorIsCaptured(t *testing.T) {
	boom := errors.New("boom")
	l := &recordingLoader{err: boom}
	res, err := newSource(l, nil).Load(context.Background(), LoadParams{Kind: Refresh})
	if err != nil {
		t.Fatalf("Load returned error %v, want it in the result", err)
	}
	if res.Kind != ResultError || !errors.Is(res.Err, boom) {
		t.Errorf("got %+v, want ResultError wrapping boom", res)
	}
}

func TestLoadCancellationIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSource(&recordingLoader{}, nil).Load(ctx, LoadParams{Kind: Refresh})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestLoadWithNoTypes(t *testing.T) {
	l := &recordingLoader{}
	src := NewSource(l.load, nil, true, SourceOptions{Now: fixedClock})
	res, err := src.Load(context.Background(), LoadParams{Kind: Refresh})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Kind != ResultPage || len(res.Data) != 0 || res.PrevKey != nil || res.NextKey != nil {
		t.Errorf("got %+v, want a single empty page", res)
	}
	if len(l.calls) != 0 {
		t.Errorf("loader called %d times", len(l.calls))
	}
}

func TestConsecutiveEmptyPagesAreDelayed(t *testing.T) {
	l := &recordingLoader{items: map[week.Week][]string{}}
	src := newSource(l, nil)

	start := time.Now()
	res, err := src.Load(context.Background(), LoadParams{Kind: Refresh})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d := time.Since(start); d >= 50*time.Millisecond {
		t.Errorf("first empty page took %v, want no delay", d)
	}

	key := *res.NextKey
	start = time.Now()
	if _, err := src.Load(context.Background(), LoadParams{Kind: Append, Key: &key}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d := time.Since(start); d < 50*time.Millisecond {
		t.Errorf("second empty page took %v, want at least 50ms", d)
	}
}

func TestEmptyPageDelayHonoursCancellation(t *testing.T) {
	l := &recordingLoader{items: map[week.Week][]string{}}
	src := NewSource(l.load, nil, false, SourceOptions{Now: fixedClock, EmptyPageDelay: time.Hour})
	if _, err := src.Load(context.Background(), LoadParams{Kind: Refresh}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	key := testCurrent.Prev()
	if _, err := src.Load(ctx, LoadParams{Kind: Append, Key: &key}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func waitInvalid(t *testing.T, s *Source[string]) {
	t.Helper()
	select {
	case <-s.Invalidated():
	case <-time.After(time.Second):
		t.Fatal("source was not invalidated")
	}
}

func TestFactoryInvalidatesLatestSource(t *testing.T) {
	l := &recordingLoader{}
	signal := make(chan struct{})
	f := NewFactory(func() *Source[string] { return newSource(l, nil) }, OnSignal(signal))
	defer f.Close()

	first := f.New()
	second := f.New()
	signal <- struct{}{}
	waitInvalid(t, second)
	if first.IsInvalid() {
		t.Error("older source was invalidated")
	}

	third := f.New()
	if third.IsInvalid() {
		t.Error("new source starts invalid")
	}
}

func TestFiltersChangeInvalidates(t *testing.T) {
	filters := NewFilters(EventFilter{})
	l := &recordingLoader{}
	f := NewFactory(func() *Source[string] { return newSource(l, filters.Get().DateRange) }, filters.Changed())
	defer f.Close()

	src := f.New()
	// The listener registers asynchronously; keep setting until it fires.
	r := testCurrent.DateRange()
	deadline := time.After(time.Second)
	for !src.IsInvalid() {
		filters.Set(EventFilter{DateRange: &r})
		select {
		case <-deadline:
			t.Fatal("source was not invalidated by a filter change")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := filters.Get().DateRange; got == nil || !got.Equal(r) {
		t.Errorf("filters = %v, want %v", got, r)
	}
}

type fakeRefresh struct {
	dataCalls    atomic.Int32
	refreshCalls atomic.Int32
	data         []int
	dataErr      error
	refreshErr   error
}

func (f *fakeRefresh) mediator() *Mediator[[]int] {
	return NewMediator("test",
		func(ctx context.Context, initial bool) ([]int, bool, error) {
			f.dataCalls.Add(1)
			if f.dataErr != nil {
				return nil, false, f.dataErr
			}
			return f.data, len(f.data) > 0, nil
		},
		func(ctx context.Context, data []int) error {
			f.refreshCalls.Add(1)
			if err := ctx.Err(); err != nil {
				return err
			}
			return f.refreshErr
		},
		nil,
	)
}

func TestMediatorInitialRefreshReusesData(t *testing.T) {
	f := &fakeRefresh{data: []int{1}}
	m := f.mediator()
	refreshed := m.Refreshed()

	if got := m.Initialize(context.Background()); got != LaunchInitialRefresh {
		t.Fatalf("Initialize = %v, want launch", got)
	}
	res, err := m.Load(context.Background(), Refresh)
	if err != nil || res.Err != nil || res.EndOfPaginationReached {
		t.Fatalf("Load = %+v, %v; want success", res, err)
	}
	if got := f.dataCalls.Load(); got != 1 {
		t.Errorf("refresh data looked up %d times, want 1", got)
	}
	if got := f.refreshCalls.Load(); got != 1 {
		t.Errorf("refresh ran %d times, want 1", got)
	}
	select {
	case <-refreshed:
	default:
		t.Error("no refreshed signal")
	}

	if _, err := m.Load(context.Background(), Refresh); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := f.dataCalls.Load(); got != 2 {
		t.Errorf("second refresh looked up data %d times in total, want 2", got)
	}
}

func TestMediatorSkipsWithoutData(t *testing.T) {
	f := &fakeRefresh{}
	m := f.mediator()
	if got := m.Initialize(context.Background()); got != SkipInitialRefresh {
		t.Errorf("Initialize = %v, want skip", got)
	}
	res, err := m.Load(context.Background(), Refresh)
	if err != nil || res.Err != nil || res.EndOfPaginationReached {
		t.Errorf("Load = %+v, %v; want success", res, err)
	}
	if got := f.refreshCalls.Load(); got != 0 {
		t.Errorf("refresh ran %d times, want 0", got)
	}

	f.dataErr = errors.New("db gone")
	if got := m.Initialize(context.Background()); got != SkipInitialRefresh {
		t.Errorf("Initialize with lookup error = %v, want skip", got)
	}
}

func TestMediatorNonRefreshLoads(t *testing.T) {
	m := (&fakeRefresh{data: []int{1}}).mediator()
	for kind, end := range map[LoadKind]bool{Append: false, Prepend: true} {
		res, err := m.Load(context.Background(), kind)
		if err != nil || res.Err != nil {
			t.Fatalf("Load(%v) = %+v, %v", kind, res, err)
		}
		if res.EndOfPaginationReached != end {
			t.Errorf("Load(%v).EndOfPaginationReached = %v, want %v", kind, res.EndOfPaginationReached, end)
		}
	}
}

func TestMediatorErrors(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeRefresh{data: []int{1}, refreshErr: boom}
	m := f.mediator()
	refreshed := m.Refreshed()

	res, err := m.Load(context.Background(), Refresh)
	if err != nil {
		t.Fatalf("Load returned %v, want error in result", err)
	}
	if !errors.Is(res.Err, boom) {
		t.Errorf("res.Err = %v, want boom", res.Err)
	}
	select {
	case <-refreshed:
		t.Error("refreshed signalled after a failure")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Load(ctx, Refresh); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Load err = %v, want context.Canceled", err)
	}

	f.refreshErr = nil
	f.dataErr = boom
	res, err = m.Load(context.Background(), Refresh)
	if err != nil || !errors.Is(res.Err, boom) {
		t.Errorf("Load with lookup error = %+v, %v; want boom in result", res, err)
	}
}

func TestCollectStartsOverOnInvalidatedSource(t *testing.T) {
	older := testCurrent.Prev()
	l := &recordingLoader{items: map[week.Week][]string{
		testCurrent: {"new"},
		older:       {"old"},
	}}
	r := week.DateRange{Start: older.Start(), End: testCurrent.End()}

	var created atomic.Int32
	factory := NewFactory(func() *Source[string] {
		s := newSource(l, &r)
		if created.Add(1) == 1 {
			s.Invalidate()
		}
		return s
	})
	defer factory.Close()
	pager := &Pager[string]{Factory: factory, Mediator: (&fakeRefresh{}).mediator()}

	got, err := pager.Collect(context.Background(), 5)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(got) != 2 || got[0] != "new" || got[1] != "old" {
		t.Errorf("Collect = %v, want [new old]", got)
	}
	if n := created.Load(); n != 2 {
		t.Errorf("created %d sources, want 2", n)
	}
}
