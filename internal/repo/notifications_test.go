package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/store"
	"github.com/abelbrown/spaceweather/internal/week"
	"github.com/abelbrown/spaceweather/internal/work"
)

type fakeNotifications struct {
	mu    sync.Mutex
	calls int
	data  []donki.Notification
}

func (f *fakeNotifications) Notifications(ctx context.Context, w week.Week) ([]donki.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []donki.Notification
	for _, n := range f.data {
		if w.Contains(n.Time) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotifications) add(n donki.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, n)
}

func notification(id string, t donki.NotificationType, at time.Time) donki.Notification {
	return donki.Notification{ID: donki.NotificationID(id), Type: t, Time: at, Title: "t", Body: "b", Link: "l"}
}

type notificationsFixture struct {
	repo    *Notifications
	store   *store.NotificationsStore
	pool    *work.Pool
	fetcher *fakeNotifications
}

func newNotificationsFixture(t *testing.T, data ...donki.Notification) *notificationsFixture {
	t.Helper()
	st, err := store.OpenNotifications(filepath.Join(t.TempDir(), "notifications.db"), store.Options{Now: fixedClock})
	if err != nil {
		t.Fatalf("OpenNotifications failed: %v", err)
	}
	pool := work.NewPool(2)
	t.Cleanup(func() {
		pool.Stop()
		st.Close()
	})
	f := &fakeNotifications{data: data}
	return &notificationsFixture{
		repo:    NewNotifications(f, st, pool, Options{Now: fixedClock}),
		store:   st,
		pool:    pool,
		fetcher: f,
	}
}

var (
	// 20 hours before testNow: stored as read.
	oldFlare = notification("20220119-AL-001", donki.NotificationSolarFlare, testNow.Add(-20*time.Hour))
	// 2 hours before testNow: stored as unread.
	newReport = notification("20220120-AL-001", donki.NotificationReport, testNow.Add(-2*time.Hour))
)

func TestNotificationSummariesFetchFilterAndReadState(t *testing.T) {
	fx := newNotificationsFixture(t, oldFlare, newReport)
	ctx := context.Background()

	sums, err := fx.repo.SummariesForWeek(ctx, testWeek, []donki.NotificationType{donki.NotificationSolarFlare}, nil)
	if err != nil {
		t.Fatalf("SummariesForWeek failed: %v", err)
	}
	if len(sums) != 1 || sums[0].ID != oldFlare.ID || !sums[0].Read {
		t.Errorf("flare summaries = %+v", sums)
	}

	fx.pool.Wait()
	if n := fx.repo.UnreadCount(ctx); n != 1 {
		t.Errorf("UnreadCount = %d, want 1", n)
	}

	// The week is cached for every type, so another type is a cache hit.
	sums, err = fx.repo.SummariesForWeek(ctx, testWeek, []donki.NotificationType{donki.NotificationReport}, nil)
	if err != nil {
		t.Fatalf("SummariesForWeek failed: %v", err)
	}
	if len(sums) != 1 || sums[0].Read || fx.fetcher.calls != 1 {
		t.Errorf("report summaries = %+v after %d fetches", sums, fx.fetcher.calls)
	}
}

func TestNotificationsUpdateWeekReturnsNew(t *testing.T) {
	fx := newNotificationsFixture(t, oldFlare)
	ctx := context.Background()

	added, err := fx.repo.UpdateWeek(ctx, testWeek)
	if err != nil {
		t.Fatalf("UpdateWeek failed: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("expected 1 new, got %d", len(added))
	}

	fx.fetcher.add(newReport)
	added, err = fx.repo.UpdateWeek(ctx, testWeek)
	if err != nil {
		t.Fatalf("UpdateWeek failed: %v", err)
	}
	if len(added) != 1 || added[0].ID != newReport.ID || added[0].Read {
		t.Errorf("second update added %+v", added)
	}
}

func TestByIDAndMarkRead(t *testing.T) {
	fx := newNotificationsFixture(t, oldFlare, newReport)
	ctx := context.Background()
	if _, err := fx.repo.UpdateWeek(ctx, testWeek); err != nil {
		t.Fatalf("UpdateWeek failed: %v", err)
	}
	changes := fx.repo.Subscribe()

	n, err := fx.repo.ByIDAndMarkRead(ctx, newReport.ID)
	if err != nil {
		t.Fatalf("ByIDAndMarkRead failed: %v", err)
	}
	if n.Read || n.Body != "b" {
		t.Errorf("notification = %+v", n)
	}
	fx.pool.Wait()

	select {
	case c := <-changes:
		if c.Kind != store.ChangeMarkedRead {
			t.Errorf("change = %v", c.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no marked-read change")
	}
	if count := fx.repo.UnreadCount(ctx); count != 0 {
		t.Errorf("UnreadCount = %d", count)
	}

	if _, err := fx.repo.ByIDAndMarkRead(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestNotificationsMarkAllRead(t *testing.T) {
	fx := newNotificationsFixture(t, newReport, notification("20220120-AL-002", donki.NotificationCoronalMassEjection, testNow.Add(-time.Hour)))
	ctx := context.Background()
	if _, err := fx.repo.UpdateWeek(ctx, testWeek); err != nil {
		t.Fatal(err)
	}
	n, err := fx.repo.MarkAllRead(ctx)
	if err != nil || n != 2 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}
	if fx.repo.UnreadCount(ctx) != 0 {
		t.Error("expected no unread")
	}
}

func TestNotificationsNeedToRefreshState(t *testing.T) {
	fx := newNotificationsFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := fx.repo.NeedToRefreshState(ctx, donki.NotificationTypes(), nil)
	expectState(t, states, refresh.DontNeedToRefresh)

	if _, err := fx.store.CacheWeek(ctx, testWeek, nil, testNow.Add(-5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	expectState(t, states, refresh.HaveWeeksThatNeedRefreshButAllCachedRecently)
}
