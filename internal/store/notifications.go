package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/week"
)

const notificationsSchema = `
CREATE TABLE IF NOT EXISTS cached_weeks (
	time_at_start_of_first_day INTEGER PRIMARY KEY ON CONFLICT REPLACE,
	load_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	time INTEGER NOT NULL,
	title TEXT NOT NULL,
	subtitle TEXT NOT NULL,
	body TEXT NOT NULL,
	link TEXT NOT NULL,
	read INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_notifications_time ON notifications(time DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
`

// NotificationsStore caches notifications per week, for all types at once.
type NotificationsStore struct {
	*handle
}

// OpenNotifications opens or creates the notifications database at path.
func OpenNotifications(path string, opts Options) (*NotificationsStore, error) {
	h, err := open("notifications", path, notificationsSchema, opts)
	if err != nil {
		return nil, err
	}
	return &NotificationsStore{handle: h}, nil
}

func newNotificationsStore(db *sql.DB, opts Options) *NotificationsStore {
	return &NotificationsStore{handle: newHandle("notifications", "", notificationsSchema, db, opts)}
}

// WeekLoadTime returns when week w was last cached.
func (s *NotificationsStore) WeekLoadTime(ctx context.Context, w week.Week) (loadTime time.Time, ok bool, err error) {
	db, release, err := s.conn()
	if err != nil {
		return time.Time{}, false, donki.WrapCacheError("get week load time", err)
	}
	defer release()

	var secs int64
	err = db.QueryRowContext(ctx,
		`SELECT load_time FROM cached_weeks WHERE time_at_start_of_first_day = ?`,
		unix(w.Start())).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, donki.WrapCacheError(fmt.Sprintf("get load time of notification week %s", w), err)
	}
	return fromUnix(secs), true, nil
}

// IsWeekCached reports whether week w has a record.
func (s *NotificationsStore) IsWeekCached(ctx context.Context, w week.Week) (bool, error) {
	_, ok, err := s.WeekLoadTime(ctx, w)
	return ok, err
}

// NotificationSummaries returns the cached notifications of week w with one
// of the given types, restricted to r if given, newest first. A week
// without a record returns nil.
func (s *NotificationsStore) NotificationSummaries(ctx context.Context, w week.Week, types []donki.NotificationType, r *week.DateRange) ([]donki.NotificationSummary, error) {
	op := fmt.Sprintf("get notification summaries for week %s", w)
	cached, err := s.IsWeekCached(ctx, w)
	if err != nil {
		return nil, err
	}
	if !cached {
		metrics.CacheLookup("notifications", "miss")
		s.events.Emit(otel.Event{Kind: otel.KindCacheMiss, Comp: "store", Partition: "notifications", Week: w.String()})
		return nil, nil
	}
	if len(types) == 0 {
		return []donki.NotificationSummary{}, nil
	}

	bounds := w.DateRange()
	if r != nil {
		bounds = r.CoerceToWeek(w)
	}

	query := `
		SELECT id, type, time, title, subtitle, read
		FROM notifications
		WHERE time >= ? AND time < ?`
	args := []any{unix(bounds.Start), unix(bounds.End)}
	if !donki.IsAllNotificationTypes(types) {
		query += ` AND type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY time DESC`

	db, release, err := s.conn()
	if err != nil {
		return nil, donki.WrapCacheError(op, err)
	}
	defer release()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, donki.WrapCacheError(op, err)
	}
	defer rows.Close()

	out := []donki.NotificationSummary{}
	for rows.Next() {
		var n donki.NotificationSummary
		var id, typ string
		var secs int64
		if err := rows.Scan(&id, &typ, &secs, &n.Title, &n.Subtitle, &n.Read); err != nil {
			return nil, donki.WrapCacheError(op, err)
		}
		n.ID, n.Type, n.Time = donki.NotificationID(id), donki.NotificationType(typ), fromUnix(secs)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, donki.WrapCacheError(op, err)
	}

	metrics.CacheLookup("notifications", "hit")
	s.events.Emit(otel.Event{Kind: otel.KindCacheHit, Comp: "store", Partition: "notifications", Week: w.String(), Count: len(out)})
	return out, nil
}

// Notification returns notification id.
func (s *NotificationsStore) Notification(ctx context.Context, id donki.NotificationID) (donki.Notification, bool, error) {
	db, release, err := s.conn()
	if err != nil {
		return donki.Notification{}, false, donki.WrapCacheError("get notification", err)
	}
	defer release()

	var n donki.Notification
	var typ string
	var secs int64
	err = db.QueryRowContext(ctx,
		`SELECT type, time, title, subtitle, body, link, read FROM notifications WHERE id = ?`,
		string(id)).Scan(&typ, &secs, &n.Title, &n.Subtitle, &n.Body, &n.Link, &n.Read)
	if errors.Is(err, sql.ErrNoRows) {
		return donki.Notification{}, false, nil
	}
	if err != nil {
		return donki.Notification{}, false, donki.WrapCacheError(fmt.Sprintf("get notification %s", id), err)
	}
	n.ID, n.Type, n.Time = id, donki.NotificationType(typ), fromUnix(secs)
	return n, true, nil
}

// CacheWeek records week w as loaded at loadTime and stores the
// notifications not already present, keeping the read state of existing
// ones. It returns the notifications that were new.
func (s *NotificationsStore) CacheWeek(ctx context.Context, w week.Week, ns []donki.Notification, loadTime time.Time) ([]donki.Notification, error) {
	op := fmt.Sprintf("cache notification week %s", w)
	const insertWeek = `INSERT OR REPLACE INTO cached_weeks (time_at_start_of_first_day, load_time) VALUES (?, ?)`

	if len(ns) == 0 {
		_, err := s.exec(ctx, insertWeek, unix(w.Start()), unix(loadTime))
		err = donki.WrapCacheError(op, err)
		s.written(op, err)
		return nil, err
	}

	var added []donki.Notification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertWeek, unix(w.Start()), unix(loadTime)); err != nil {
			return fmt.Errorf("insert week: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO notifications (id, type, time, title, subtitle, body, link, read)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, n := range ns {
			res, err := stmt.ExecContext(ctx, string(n.ID), string(n.Type), unix(n.Time), n.Title, n.Subtitle, n.Body, n.Link, n.Read)
			if err != nil {
				return fmt.Errorf("insert notification %s: %w", n.ID, err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				added = append(added, n)
			}
		}
		return nil
	})
	err = donki.WrapCacheError(op, err)
	s.written(op, err)
	if err != nil {
		return nil, err
	}
	s.events.Emit(otel.Event{Kind: otel.KindCacheWrite, Comp: "store", Partition: "notifications", Week: w.String(), Count: len(added)})
	return added, nil
}

// MarkRead marks notification id as read.
func (s *NotificationsStore) MarkRead(ctx context.Context, id donki.NotificationID) error {
	res, err := s.exec(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND read = 0`, string(id))
	if err != nil {
		return donki.WrapCacheError(fmt.Sprintf("mark notification %s read", id), err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		s.changes.publish(Change{Kind: ChangeMarkedRead, Partition: s.partition})
	}
	return nil
}

// MarkAllRead marks every notification as read and returns how many changed.
func (s *NotificationsStore) MarkAllRead(ctx context.Context) (int, error) {
	res, err := s.exec(ctx, `UPDATE notifications SET read = 1 WHERE read = 0`)
	if err != nil {
		return 0, donki.WrapCacheError("mark all notifications read", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		s.changes.publish(Change{Kind: ChangeMarkedRead, Partition: s.partition})
	}
	return int(affected), nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationsStore) UnreadCount(ctx context.Context) (int, error) {
	db, release, err := s.conn()
	if err != nil {
		return 0, donki.WrapCacheError("count unread notifications", err)
	}
	defer release()

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE read = 0`).Scan(&n); err != nil {
		return 0, donki.WrapCacheError("count unread notifications", err)
	}
	return n, nil
}

// WeeksNeedingRefresh returns the cached weeks whose notifications may still
// change, restricted to weeks intersecting r if given.
func (s *NotificationsStore) WeeksNeedingRefresh(ctx context.Context, r *week.DateRange) ([]refresh.CachedWeek, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, donki.WrapCacheError("get weeks needing refresh", err)
	}
	defer release()

	rows, err := db.QueryContext(ctx, `
		SELECT time_at_start_of_first_day, load_time
		FROM cached_weeks
		WHERE load_time < time_at_start_of_first_day + ?
		ORDER BY time_at_start_of_first_day DESC`,
		int64(refresh.NotificationsThreshold/time.Second))
	if err != nil {
		return nil, donki.WrapCacheError("get weeks needing refresh", err)
	}
	defer rows.Close()

	now := s.now()
	var out []refresh.CachedWeek
	for rows.Next() {
		var start, load int64
		if err := rows.Scan(&start, &load); err != nil {
			return nil, donki.WrapCacheError("get weeks needing refresh", err)
		}
		w := week.FromInstant(fromUnix(start))
		if r != nil && !w.DateRange().Intersects(*r) {
			continue
		}
		lt := fromUnix(load)
		out = append(out, refresh.CachedWeek{Week: w, LoadTime: lt, CachedRecently: refresh.CachedRecently(lt, now)})
	}
	if err := rows.Err(); err != nil {
		return nil, donki.WrapCacheError("get weeks needing refresh", err)
	}
	return out, nil
}
