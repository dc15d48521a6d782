package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/refresh"
	"github.com/abelbrown/spaceweather/internal/week"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS cached_weeks (
	time_at_start_of_first_day INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	load_time INTEGER NOT NULL,
	PRIMARY KEY (time_at_start_of_first_day, event_type) ON CONFLICT REPLACE
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	time INTEGER NOT NULL,
	json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_time ON events(time DESC);

CREATE TABLE IF NOT EXISTS coronal_mass_ejection_extras (
	id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
	predicted_earth_impact INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS geomagnetic_storm_extras (
	id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
	kp_index REAL
);

CREATE TABLE IF NOT EXISTS interplanetary_shock_extras (
	id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
	location TEXT
);

CREATE TABLE IF NOT EXISTS solar_flare_extras (
	id TEXT PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
	class_type TEXT
);
`

// EventsStore caches events per (week, event type).
type EventsStore struct {
	*handle
}

// OpenEvents opens or creates the events database at path.
func OpenEvents(path string, opts Options) (*EventsStore, error) {
	h, err := open("events", path, eventsSchema, opts)
	if err != nil {
		return nil, err
	}
	return &EventsStore{handle: h}, nil
}

// newEventsStore wraps an existing database whose schema is in place.
func newEventsStore(db *sql.DB, opts Options) *EventsStore {
	return &EventsStore{handle: newHandle("events", "", eventsSchema, db, opts)}
}

// WeekLoadTime returns when week w of type t was last cached.
// ok is false if it never was.
func (s *EventsStore) WeekLoadTime(ctx context.Context, w week.Week, t donki.EventType) (loadTime time.Time, ok bool, err error) {
	db, release, err := s.conn()
	if err != nil {
		return time.Time{}, false, donki.WrapCacheError("get week load time", err)
	}
	defer release()

	var secs int64
	err = db.QueryRowContext(ctx,
		`SELECT load_time FROM cached_weeks WHERE time_at_start_of_first_day = ? AND event_type = ?`,
		unix(w.Start()), string(t)).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, donki.WrapCacheError(fmt.Sprintf("get load time of %s week %s", t, w), err)
	}
	return fromUnix(secs), true, nil
}

// IsWeekCached reports whether week w of type t has a record.
func (s *EventsStore) IsWeekCached(ctx context.Context, w week.Week, t donki.EventType) (bool, error) {
	_, ok, err := s.WeekLoadTime(ctx, w, t)
	return ok, err
}

// EventSummaries returns the cached events of type t in week w, restricted
// to r if given, newest first. A week without a record returns nil; a
// cached week with no matching rows returns an empty non-nil slice.
func (s *EventsStore) EventSummaries(ctx context.Context, w week.Week, t donki.EventType, r *week.DateRange) ([]donki.EventSummary, error) {
	op := fmt.Sprintf("get %s summaries for week %s", t, w)
	cached, err := s.IsWeekCached(ctx, w, t)
	if err != nil {
		return nil, err
	}
	if !cached {
		metrics.CacheLookup("events", "miss")
		s.events.Emit(otel.Event{Kind: otel.KindCacheMiss, Comp: "store", Partition: "events", Week: w.String(), Type: string(t)})
		return nil, nil
	}

	bounds := w.DateRange()
	if r != nil {
		bounds = r.CoerceToWeek(w)
	}

	db, release, err := s.conn()
	if err != nil {
		return nil, donki.WrapCacheError(op, err)
	}
	defer release()

	rows, err := db.QueryContext(ctx, `
		SELECT e.id, e.type, e.time,
			cme.predicted_earth_impact, gst.kp_index, ips.location, flr.class_type
		FROM events e
		LEFT JOIN coronal_mass_ejection_extras cme ON cme.id = e.id
		LEFT JOIN geomagnetic_storm_extras gst ON gst.id = e.id
		LEFT JOIN interplanetary_shock_extras ips ON ips.id = e.id
		LEFT JOIN solar_flare_extras flr ON flr.id = e.id
		WHERE e.type = ? AND e.time >= ? AND e.time < ?
		ORDER BY e.time DESC
	`, string(t), unix(bounds.Start), unix(bounds.End))
	if err != nil {
		return nil, donki.WrapCacheError(op, err)
	}
	defer rows.Close()

	out := []donki.EventSummary{}
	for rows.Next() {
		var (
			id, typ  string
			secs     int64
			impact   sql.NullInt64
			kp       sql.NullFloat64
			location sql.NullString
			class    sql.NullString
		)
		if err := rows.Scan(&id, &typ, &secs, &impact, &kp, &location, &class); err != nil {
			return nil, donki.WrapCacheError(op, err)
		}
		sum := donki.EventSummary{ID: donki.EventID(id), Type: donki.EventType(typ), Time: fromUnix(secs)}
		if impact.Valid {
			v := donki.EarthImpact(impact.Int64)
			sum.Extras.PredictedEarthImpact = &v
		}
		if kp.Valid {
			v := kp.Float64
			sum.Extras.KpIndex = &v
		}
		if location.Valid {
			v := location.String
			sum.Extras.Location = &v
		}
		if class.Valid {
			v := class.String
			sum.Extras.ClassType = &v
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, donki.WrapCacheError(op, err)
	}

	metrics.CacheLookup("events", "hit")
	s.events.Emit(otel.Event{Kind: otel.KindCacheHit, Comp: "store", Partition: "events", Week: w.String(), Type: string(t), Count: len(out)})
	return out, nil
}

// EventJSON returns the stored payload of event id.
func (s *EventsStore) EventJSON(ctx context.Context, id donki.EventID) (json.RawMessage, bool, error) {
	db, release, err := s.conn()
	if err != nil {
		return nil, false, donki.WrapCacheError("get event", err)
	}
	defer release()

	var raw string
	err = db.QueryRowContext(ctx, `SELECT json FROM events WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, donki.WrapCacheError(fmt.Sprintf("get event %s", id), err)
	}
	return json.RawMessage(raw), true, nil
}

// CacheWeek records week w of type t as loaded at loadTime and stores
// events, replacing earlier copies. All rows are written in one
// transaction; an empty week writes only its record.
func (s *EventsStore) CacheWeek(ctx context.Context, w week.Week, t donki.EventType, events []donki.Event, loadTime time.Time) error {
	op := fmt.Sprintf("cache %s week %s", t, w)
	const insertWeek = `INSERT OR REPLACE INTO cached_weeks (time_at_start_of_first_day, event_type, load_time) VALUES (?, ?, ?)`

	if len(events) == 0 {
		_, err := s.exec(ctx, insertWeek, unix(w.Start()), string(t), unix(loadTime))
		err = donki.WrapCacheError(op, err)
		s.written(op, err)
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertWeek, unix(w.Start()), string(t), unix(loadTime)); err != nil {
			return fmt.Errorf("insert week: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO events (id, type, time, json) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, string(e.ID), string(e.Type), unix(e.Time), string(e.JSON)); err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID, err)
			}
			if err := insertExtras(ctx, tx, e); err != nil {
				return fmt.Errorf("insert extras of %s: %w", e.ID, err)
			}
		}
		return nil
	})
	err = donki.WrapCacheError(op, err)
	s.written(op, err)
	if err == nil {
		s.events.Emit(otel.Event{Kind: otel.KindCacheWrite, Comp: "store", Partition: "events", Week: w.String(), Type: string(t), Count: len(events)})
	}
	return err
}

func insertExtras(ctx context.Context, tx *sql.Tx, e donki.Event) error {
	x := e.Extras
	var err error
	switch {
	case x.PredictedEarthImpact != nil:
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO coronal_mass_ejection_extras (id, predicted_earth_impact) VALUES (?, ?)`,
			string(e.ID), int(*x.PredictedEarthImpact))
	case e.Type == donki.GeomagneticStorm:
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO geomagnetic_storm_extras (id, kp_index) VALUES (?, ?)`,
			string(e.ID), nullFloat(x.KpIndex))
	case e.Type == donki.InterplanetaryShock:
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO interplanetary_shock_extras (id, location) VALUES (?, ?)`,
			string(e.ID), nullString(x.Location))
	case e.Type == donki.SolarFlare:
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO solar_flare_extras (id, class_type) VALUES (?, ?)`,
			string(e.ID), nullString(x.ClassType))
	}
	return err
}

// WeeksNeedingRefresh returns the cached weeks of the given types whose
// data may still change, restricted to weeks intersecting r if given.
func (s *EventsStore) WeeksNeedingRefresh(ctx context.Context, types []donki.EventType, r *week.DateRange) ([]refresh.CachedWeek, error) {
	if len(types) == 0 {
		return nil, nil
	}
	db, release, err := s.conn()
	if err != nil {
		return nil, donki.WrapCacheError("get weeks needing refresh", err)
	}
	defer release()

	args := []any{int64(refresh.EventsThreshold / time.Second)}
	for _, t := range types {
		args = append(args, string(t))
	}
	query := `
		SELECT time_at_start_of_first_day, event_type, load_time
		FROM cached_weeks
		WHERE load_time < time_at_start_of_first_day + ?
		AND event_type IN (` + placeholders(len(types)) + `)
		ORDER BY time_at_start_of_first_day DESC, event_type`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, donki.WrapCacheError("get weeks needing refresh", err)
	}
	defer rows.Close()

	now := s.now()
	var out []refresh.CachedWeek
	for rows.Next() {
		var start, load int64
		var typ string
		if err := rows.Scan(&start, &typ, &load); err != nil {
			return nil, donki.WrapCacheError("get weeks needing refresh", err)
		}
		w := week.FromInstant(fromUnix(start))
		if r != nil && !w.DateRange().Intersects(*r) {
			continue
		}
		lt := fromUnix(load)
		out = append(out, refresh.CachedWeek{Week: w, Type: typ, LoadTime: lt, CachedRecently: refresh.CachedRecently(lt, now)})
	}
	if err := rows.Err(); err != nil {
		return nil, donki.WrapCacheError("get weeks needing refresh", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
