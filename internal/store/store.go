// Package store provides SQLite persistence for the DONKI cache.
//
// Each partition (events, notifications) lives in its own database file.
// Caching is tracked per whole week: a week record says when the week was
// last loaded, and a query for a week without a record is a miss even if
// rows for it happen to exist.
//
// Stores are concrete types, safe for concurrent use. A store publishes a
// Change after every commit so readers can re-query, and recreates its
// database when the file is deleted from under it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/refresh"
)

var log = logging.For("store")

var errClosed = errors.New("store closed")

// Options configures a store. Zero values select defaults.
type Options struct {
	// Watcher reports deletion of the database file. nil trusts the file.
	Watcher Watcher
	// Now is the clock used for the cached-recently check.
	Now refresh.Clock
	// Events receives cache observability events.
	Events *otel.Logger
}

// handle owns the *sql.DB of one partition. mu guards the pointer so the
// database can be swapped out on recreation while queries are running.
type handle struct {
	partition string
	path      string
	schema    string
	now       refresh.Clock
	events    *otel.Logger
	changes   *feed

	mu        sync.RWMutex
	db        *sql.DB
	stopWatch func()
}

func newHandle(partition, path, schema string, db *sql.DB, opts Options) *handle {
	now := opts.Now
	if now == nil {
		now = refresh.Now
	}
	return &handle{
		partition: partition,
		path:      path,
		schema:    schema,
		now:       now,
		events:    opts.Events,
		changes:   newFeed(),
		db:        db,
	}
}

// open creates the handle for a database file and starts watching it.
func open(partition, path, schema string, opts Options) (*handle, error) {
	db, err := openDB(path, schema)
	if err != nil {
		return nil, donki.WrapCacheError("open "+partition+" database", err)
	}
	h := newHandle(partition, path, schema, db, opts)

	watcher := opts.Watcher
	if watcher == nil {
		watcher = NopWatcher{}
	}
	stop, err := watcher.Watch(path, h.onRemoved)
	if err != nil {
		db.Close()
		return nil, donki.WrapCacheError("watch "+partition+" database", err)
	}
	h.stopWatch = stop

	log.Info("Database opened", "partition", partition, "path", path)
	return h, nil
}

// openDB opens path in WAL mode with foreign keys enabled on every pooled
// connection, and creates the schema.
func openDB(path, schema string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return db, nil
}

// conn returns the current database with the read lock held. The caller
// must call release.
func (h *handle) conn() (*sql.DB, func(), error) {
	h.mu.RLock()
	if h.db == nil {
		h.mu.RUnlock()
		return nil, nil, errClosed
	}
	return h.db, h.mu.RUnlock, nil
}

func (h *handle) onRemoved() {
	log.Warn("Database file removed, recreating", "partition", h.partition, "path", h.path)
	if err := h.recreate(); err != nil {
		log.Error("Failed to recreate database", "partition", h.partition, "error", err)
		h.events.Error(otel.KindCacheError, "store", err)
	}
}

// recreate replaces the database with an empty one. Leftover WAL and SHM
// files are removed so the new database does not pick them up.
func (h *handle) recreate() error {
	h.mu.Lock()
	if h.db == nil {
		h.mu.Unlock()
		return errClosed
	}
	if err := h.db.Close(); err != nil {
		log.Warn("Failed to close removed database", "partition", h.partition, "error", err)
	}
	h.db = nil
	for _, p := range []string{h.path, h.path + "-wal", h.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove database file", "path", p, "error", err)
		}
	}
	db, err := openDB(h.path, h.schema)
	if err != nil {
		h.mu.Unlock()
		return donki.WrapCacheError("recreate "+h.partition+" database", err)
	}
	h.db = db
	h.mu.Unlock()

	metrics.StoreRecreated(h.partition)
	h.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindCacheRecreated, Comp: "store", Partition: h.partition})
	h.changes.publish(Change{Kind: ChangeRecreated, Partition: h.partition})
	return nil
}

// withTx runs fn in a transaction. The transaction is rolled back if fn
// fails or ctx is cancelled.
func (h *handle) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, release, err := h.conn()
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *handle) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, release, err := h.conn()
	if err != nil {
		return nil, err
	}
	defer release()
	return db.ExecContext(ctx, query, args...)
}

func (h *handle) written(op string, err error) {
	if err != nil {
		metrics.CacheWrite(h.partition, "error")
		if !donki.IsCancellation(err) {
			log.Error("Write failed", "partition", h.partition, "op", op, "error", err)
			h.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindCacheError, Comp: "store", Partition: h.partition, Msg: op, Err: err.Error()})
		}
		return
	}
	metrics.CacheWrite(h.partition, "ok")
	h.changes.publish(Change{Kind: ChangeWritten, Partition: h.partition})
}

// Subscribe returns a channel receiving every subsequent Change.
func (h *handle) Subscribe() <-chan Change { return h.changes.subscribe() }

// Unsubscribe stops delivery to ch and closes it.
func (h *handle) Unsubscribe(ch <-chan Change) { h.changes.unsubscribe(ch) }

// Close stops the watcher and closes the database.
func (h *handle) Close() error {
	if h.stopWatch != nil {
		h.stopWatch()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	h.changes.close()
	return err
}

// timestamps are stored as Unix seconds.
func unix(t time.Time) int64 { return t.Unix() }

func fromUnix(s int64) time.Time { return time.Unix(s, 0).UTC() }
