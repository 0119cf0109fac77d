// Package monitor tracks network reachability and drives automatic sync.
//
// A Monitor probes the remote endpoint on an interval and publishes
// online/offline transitions on the event bus. While online and logged in it
// also triggers periodic sync cycles, plus an immediate cycle on reconnect
// and on login.
package monitor

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/engine"
	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
)

// Prober checks whether the remote endpoint is reachable.
// *cloud.Client satisfies this with its unauthenticated health probe.
type Prober interface {
	Ping(ctx context.Context) error
}

// Syncer runs sync cycles. *engine.Engine satisfies this.
type Syncer interface {
	Sync(ctx context.Context) engine.SyncResult
}

// Session mirrors engine.Session so the monitor can gate periodic sync.
type Session interface {
	IsLoggedIn() bool
}

// Config holds monitor configuration.
type Config struct {
	// ProbeInterval between reachability checks (default: 10s).
	ProbeInterval time.Duration

	// SyncInterval between automatic sync cycles while online and logged
	// in (default: 30s).
	SyncInterval time.Duration

	// ProbeTimeout bounds a single reachability check (default: 5s).
	ProbeTimeout time.Duration

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 10 * time.Second,
		SyncInterval:  30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Logger:        log.New(os.Stderr, "[monitor] ", log.LstdFlags),
	}
}

// Monitor owns the probe and sync-trigger goroutine.
type Monitor struct {
	prober  Prober
	syncer  Syncer
	session Session
	bus     *events.Bus
	config  *Config
	logger  *log.Logger

	online  atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a monitor. The bus may be nil; online/offline transitions are
// then tracked but not published.
func New(prober Prober, syncer Syncer, session Session, bus *events.Bus, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 10 * time.Second
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 30 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	return &Monitor{
		prober:  prober,
		syncer:  syncer,
		session: session,
		bus:     bus,
		config:  config,
		logger:  config.Logger,
		done:    make(chan struct{}),
	}
}

// Online reports the last observed reachability. Before the first probe
// completes this is false; callers wanting a fresh answer use Probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Probe runs one reachability check immediately and records the result,
// publishing a transition event if the state changed.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	online := m.prober.Ping(ctx) == nil
	m.setOnline(online)
	return online
}

// Start launches the probe and sync loops. An initial probe runs
// synchronously so callers observe a settled state immediately after Start.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.Probe(ctx)

	m.wg.Add(1)
	go m.loop(ctx)

	if m.bus != nil {
		sub := m.bus.Subscribe()
		m.wg.Add(1)
		go m.watchAuth(ctx, sub)
	}
}

// Stop shuts down the loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	probe := time.NewTicker(m.config.ProbeInterval)
	defer probe.Stop()
	sync := time.NewTicker(m.config.SyncInterval)
	defer sync.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-probe.C:
			m.Probe(ctx)
		case <-sync.C:
			m.maybeSync(ctx)
		}
	}
}

// watchAuth triggers an immediate sync when the session logs in, so queued
// offline work drains without waiting for the next tick.
func (m *Monitor) watchAuth(ctx context.Context, sub *events.Subscription) {
	defer m.wg.Done()
	defer sub.Cancel()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Type == events.TypeAuthChanged && ev.LoggedIn {
				m.maybeSync(ctx)
			}
		}
	}
}

func (m *Monitor) maybeSync(ctx context.Context) {
	if !m.online.Load() || !m.session.IsLoggedIn() {
		return
	}
	result := m.syncer.Sync(ctx)
	if !result.Success && result.Reason == engine.ReasonError {
		m.logger.Printf("automatic sync failed: %v", result.Err)
	}
}

func (m *Monitor) setOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}

	if online {
		m.logger.Printf("connectivity regained")
		m.publish(events.Event{Type: events.TypeOnline})
		// Reconnect triggers an immediate cycle so offline edits drain
		// promptly. The goroutine joins the WaitGroup so Stop does not
		// return with a cycle still in flight, and a stopped monitor
		// dispatches nothing.
		m.mu.Lock()
		if m.running {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.maybeSync(context.Background())
			}()
		}
		m.mu.Unlock()
	} else {
		m.logger.Printf("connectivity lost")
		m.publish(events.Event{Type: events.TypeOffline})
	}
}

func (m *Monitor) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
