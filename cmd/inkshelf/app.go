package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tanghoong/browser-extension-inkshelf/internal/auth"
	"github.com/tanghoong/browser-extension-inkshelf/internal/cloud"
	"github.com/tanghoong/browser-extension-inkshelf/internal/config"
	"github.com/tanghoong/browser-extension-inkshelf/internal/cursor"
	"github.com/tanghoong/browser-extension-inkshelf/internal/engine"
	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
	"github.com/tanghoong/browser-extension-inkshelf/internal/logging"
	"github.com/tanghoong/browser-extension-inkshelf/internal/monitor"
	"github.com/tanghoong/browser-extension-inkshelf/internal/queue"
	"github.com/tanghoong/browser-extension-inkshelf/internal/store"
)

// app wires the full dependency graph for one command invocation.
type app struct {
	cfg     *config.Config
	logw    io.Writer
	db      *store.DB
	queue   *queue.Queue
	cursor  *cursor.Cursor
	bus     *events.Bus
	auth    *auth.Manager
	client  *cloud.Client
	monitor *monitor.Monitor
	engine  *engine.Engine
}

// openApp builds the application from flags and config. Close must be called
// when the command is done.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logw := logging.Writer(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Quiet:      quiet,
	})

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	q := queue.New(db.RawDB(), cfg.Sync.QueueMax)
	if err := q.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	cur, err := cursor.Load(cfg.CursorPath())
	if err != nil {
		db.Close()
		return nil, err
	}

	bus := events.NewBus()

	authMgr := auth.NewManager(cfg.ServerURL, db, bus, logging.New(logw, "[auth] "))
	if err := authMgr.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	clientCfg := cloud.DefaultConfig(cfg.ServerURL)
	clientCfg.RetryDelay = cfg.Sync.RetryDelay
	clientCfg.Logger = logging.New(logw, "[cloud] ")
	client := cloud.NewClient(clientCfg, authMgr)

	engCfg := engine.DefaultConfig()
	engCfg.MaxRetries = cfg.Sync.MaxRetries
	engCfg.Logger = logging.New(logw, "[engine] ")

	a := &app{
		cfg:    cfg,
		logw:   logw,
		db:     db,
		queue:  q,
		cursor: cur,
		bus:    bus,
		auth:   authMgr,
		client: client,
	}

	monCfg := monitor.DefaultConfig()
	monCfg.ProbeInterval = cfg.Monitor.ProbeInterval
	monCfg.SyncInterval = cfg.Sync.Interval
	monCfg.Logger = logging.New(logw, "[monitor] ")

	// The monitor doubles as the engine's connectivity source, so it is
	// created first with a late-bound syncer.
	a.monitor = monitor.New(client, &lateSyncer{app: a}, authMgr, bus, monCfg)
	a.engine = engine.New(db, q, cur, client, authMgr, a.monitor, bus, engCfg)

	return a, nil
}

func (a *app) Close() error {
	a.bus.Close()
	return a.db.Close()
}

// probeOnce refreshes connectivity state before a one-shot command that
// needs a current answer rather than the daemon's cached one.
func (a *app) probeOnce(ctx context.Context) bool {
	return a.monitor.Probe(ctx)
}

// lateSyncer breaks the monitor/engine construction cycle.
type lateSyncer struct {
	app *app
}

func (l *lateSyncer) Sync(ctx context.Context) engine.SyncResult {
	return l.app.engine.Sync(ctx)
}
