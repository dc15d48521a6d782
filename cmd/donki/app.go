package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/spaceweather/internal/config"
	"github.com/abelbrown/spaceweather/internal/fetch"
	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/repo"
	"github.com/abelbrown/spaceweather/internal/store"
	"github.com/abelbrown/spaceweather/internal/work"
)

// writeWorkers bounds concurrent background cache writes.
const writeWorkers = 4

// app is the wired dependency graph of one command invocation.
type app struct {
	cfg     *config.Config
	cfgPath string

	keys    *fetch.KeyStore
	fetcher *fetch.Fetcher

	eventsStore        *store.EventsStore
	notificationsStore *store.NotificationsStore
	pool               *work.Pool

	events        *repo.Events
	notifications *repo.Notifications

	otel     *otel.Logger
	ring     *otel.RingBuffer
	eventLog *os.File
}

func loadConfig(opts *options) (*config.Config, string, error) {
	path := opts.configPath
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func openApp(opts *options) (*app, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if opts.verbose {
		logging.InitWriter(os.Stderr, log.DebugLevel)
	} else if err := logging.Init(cfg.DataDir, logging.ParseLevel(cfg.LogLevel)); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: path, ring: otel.NewRingBuffer(otel.DefaultRingSize)}
	a.eventLog, err = os.OpenFile(cfg.EventLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}
	a.otel = otel.NewLogger(a.eventLog)
	a.otel.SetRingBuffer(a.ring)
	a.otel.Info(otel.KindStartup, "main", "session started")

	a.keys = fetch.NewKeyStore(cfg.APIKey)
	a.fetcher, err = fetch.NewFetcher(a.keys, fetch.Options{
		BaseURL:     cfg.BaseURL,
		Timeout:     time.Duration(cfg.HTTPTimeout),
		RatePerHour: cfg.RatePerHour,
		Events:      a.otel,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	storeOpts := store.Options{Watcher: store.FSWatcher{}, Events: a.otel}
	if a.eventsStore, err = store.OpenEvents(cfg.EventsDBPath(), storeOpts); err != nil {
		a.Close()
		return nil, err
	}
	if a.notificationsStore, err = store.OpenNotifications(cfg.NotificationsDBPath(), storeOpts); err != nil {
		a.Close()
		return nil, err
	}

	a.pool = work.NewPool(writeWorkers)
	repoOpts := repo.Options{UnreadThreshold: time.Duration(cfg.UnreadThreshold)}
	a.events = repo.NewEvents(a.fetcher, a.eventsStore, a.pool, repoOpts)
	a.notifications = repo.NewNotifications(a.fetcher, a.notificationsStore, a.pool, repoOpts)
	return a, nil
}

// Close lets pending background writes finish, then releases everything.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Wait()
		a.pool.Stop()
	}
	if a.eventsStore != nil {
		a.eventsStore.Close()
	}
	if a.notificationsStore != nil {
		a.notificationsStore.Close()
	}
	if a.otel != nil {
		a.otel.Info(otel.KindShutdown, "main", "session ended")
		a.otel.Close()
	}
	if a.eventLog != nil {
		a.eventLog.Close()
	}
	logging.Close()
}
