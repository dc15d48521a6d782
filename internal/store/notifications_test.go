package store

import (
	"context"
	"testing"
	"time"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/week"
)

func note(id string, typ donki.NotificationType, at time.Time) donki.Notification {
	return donki.Notification{
		ID: donki.NotificationID(id), Type: typ, Time: at,
		Title: "Title " + id, Subtitle: "Subtitle", Body: "body", Link: "https://example.com/" + id,
	}
}

func TestNotificationsCacheWeekReturnsNew(t *testing.T) {
	st := openNotifications(t)
	ctx := context.Background()

	a := note("20220117-AL-001", donki.NotificationSolarFlare, testWeek.Start().Add(time.Hour))
	b := note("20220118-AL-001", donki.NotificationReport, testWeek.Start().Add(30*time.Hour))

	added, err := st.CacheWeek(ctx, testWeek, []donki.Notification{a}, testNow)
	if err != nil {
		t.Fatalf("CacheWeek failed: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("expected 1 new, got %d", len(added))
	}

	if err := st.MarkRead(ctx, a.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	added, err = st.CacheWeek(ctx, testWeek, []donki.Notification{a, b}, testNow)
	if err != nil {
		t.Fatalf("CacheWeek failed: %v", err)
	}
	if len(added) != 1 || added[0].ID != b.ID {
		t.Fatalf("expected only %s new, got %+v", b.ID, added)
	}

	got, ok, err := st.Notification(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("Notification = %v, %v", ok, err)
	}
	if !got.Read {
		t.Error("read state should survive a re-cache")
	}
	if got.Body != "body" || got.Link != a.Link || !got.Time.Equal(a.Time) {
		t.Errorf("unexpected notification: %+v", got)
	}
}

func TestNotificationSummariesFilters(t *testing.T) {
	st := openNotifications(t)
	ctx := context.Background()

	if sums, err := st.NotificationSummaries(ctx, testWeek, donki.NotificationTypes(), nil); err != nil || sums != nil {
		t.Fatalf("uncached week = %v, %v", sums, err)
	}

	ns := []donki.Notification{
		note("20220117-AL-001", donki.NotificationSolarFlare, testWeek.Start().Add(time.Hour)),
		note("20220118-AL-001", donki.NotificationReport, testWeek.Start().Add(30*time.Hour)),
		note("20220121-AL-001", donki.NotificationSolarFlare, testWeek.Start().Add(100*time.Hour)),
	}
	if _, err := st.CacheWeek(ctx, testWeek, ns, testNow); err != nil {
		t.Fatalf("CacheWeek failed: %v", err)
	}

	sums, err := st.NotificationSummaries(ctx, testWeek, donki.NotificationTypes(), nil)
	if err != nil {
		t.Fatalf("NotificationSummaries failed: %v", err)
	}
	if len(sums) != 3 || sums[0].ID != "20220121-AL-001" {
		t.Errorf("all types = %+v", sums)
	}

	sums, _ = st.NotificationSummaries(ctx, testWeek, []donki.NotificationType{donki.NotificationSolarFlare}, nil)
	if len(sums) != 2 {
		t.Errorf("flare filter = %+v", sums)
	}

	r := week.DateRange{Start: testWeek.Start(), End: testWeek.Start().Add(48 * time.Hour)}
	sums, _ = st.NotificationSummaries(ctx, testWeek, []donki.NotificationType{donki.NotificationSolarFlare}, &r)
	if len(sums) != 1 || sums[0].ID != "20220117-AL-001" {
		t.Errorf("range and type filter = %+v", sums)
	}

	sums, _ = st.NotificationSummaries(ctx, testWeek, nil, nil)
	if sums == nil || len(sums) != 0 {
		t.Errorf("no types should be an empty hit, got %v", sums)
	}
}

func TestMarkAllReadAndUnreadCount(t *testing.T) {
	st := openNotifications(t)
	ctx := context.Background()
	ch := st.Subscribe()

	ns := []donki.Notification{
		note("20220117-AL-001", donki.NotificationSolarFlare, testWeek.Start().Add(time.Hour)),
		note("20220118-AL-001", donki.NotificationReport, testWeek.Start().Add(30*time.Hour)),
	}
	if _, err := st.CacheWeek(ctx, testWeek, ns, testNow); err != nil {
		t.Fatalf("CacheWeek failed: %v", err)
	}
	waitChange(t, ch, ChangeWritten)

	if n, err := st.UnreadCount(ctx); err != nil || n != 2 {
		t.Fatalf("UnreadCount = %d, %v", n, err)
	}

	n, err := st.MarkAllRead(ctx)
	if err != nil || n != 2 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}
	waitChange(t, ch, ChangeMarkedRead)

	if n, _ := st.UnreadCount(ctx); n != 0 {
		t.Errorf("UnreadCount after MarkAllRead = %d", n)
	}
	if n, _ := st.MarkAllRead(ctx); n != 0 {
		t.Errorf("second MarkAllRead changed %d rows", n)
	}
}

func TestNotificationsWeeksNeedingRefresh(t *testing.T) {
	st := openNotifications(t)
	ctx := context.Background()
	old := testWeek.Prev().Prev()

	if _, err := st.CacheWeek(ctx, testWeek, nil, testNow.Add(-30*time.Minute)); err != nil {
		t.Fatal(err)
	}
	// Loaded 8 days after the week started: settled for notifications.
	if _, err := st.CacheWeek(ctx, old, nil, old.Start().Add(8*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	weeks, err := st.WeeksNeedingRefresh(ctx, nil)
	if err != nil {
		t.Fatalf("WeeksNeedingRefresh failed: %v", err)
	}
	if len(weeks) != 1 || !weeks[0].Week.Equal(testWeek) || !weeks[0].CachedRecently {
		t.Errorf("weeks = %+v", weeks)
	}

	r := old.DateRange()
	if weeks, _ := st.WeeksNeedingRefresh(ctx, &r); len(weeks) != 0 {
		t.Errorf("range filter = %+v", weeks)
	}
}

func TestNotificationSummariesRangeWiderThanWeek(t *testing.T) {
	st := openNotifications(t)
	ctx := context.Background()
	prev := testWeek.Prev()
	outside := note("20220112-AL-001", donki.NotificationSolarFlare, prev.Start().Add(51*time.Hour))
	inside := note("20220118-AL-001", donki.NotificationSolarFlare, testWeek.Start().Add(27*time.Hour))
	if _, err := st.CacheWeek(ctx, prev, []donki.Notification{outside}, testNow); err != nil {
		t.Fatalf("CacheWeek %s failed: %v", prev, err)
	}
	if _, err := st.CacheWeek(ctx, testWeek, []donki.Notification{inside}, testNow); err != nil {
		t.Fatalf("CacheWeek %s failed: %v", testWeek, err)
	}

	r := week.DateRange{
		Start: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2022, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	sums, err := st.NotificationSummaries(ctx, testWeek, donki.NotificationTypes(), &r)
	if err != nil {
		t.Fatalf("NotificationSummaries failed: %v", err)
	}
	if len(sums) != 1 || sums[0].ID != inside.ID {
		t.Errorf("NotificationSummaries(%s) = %+v, want only %s", testWeek, sums, inside.ID)
	}
}
