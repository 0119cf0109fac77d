// Package engine implements the offline-first synchronization engine.
//
// The engine reconciles the local document store (mutated freely while
// offline) with the remote store. One sync cycle drains the durable queue,
// computes the local changeset since the last cursor, performs a single
// round trip with the remote endpoint, applies the returned remote changes,
// and advances the cursor.
//
// Cycles are strictly serialized: a sync requested while one is in flight is
// rejected with an "already syncing" result rather than queued or blocked.
// Any failure during a cycle leaves the cursor unchanged; queue items keep
// whatever durable status they reached.
package engine

import (
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/cloud"
	"github.com/tanghoong/browser-extension-inkshelf/internal/cursor"
	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
	"github.com/tanghoong/browser-extension-inkshelf/internal/queue"
	"github.com/tanghoong/browser-extension-inkshelf/internal/store"
)

// Endpoint is the remote sync endpoint consumed by the engine.
// *cloud.Client satisfies this; tests inject stubs.
type Endpoint interface {
	Sync(ctx context.Context, req *cloud.SyncRequest) (*cloud.SyncResponse, error)
	DeleteDocument(ctx context.Context, cloudID string) error
}

// Session gates sync on authentication validity.
type Session interface {
	IsLoggedIn() bool
}

// Connectivity gates sync on network reachability.
type Connectivity interface {
	Online() bool
}

// Reason distinguishes why a sync cycle was skipped or failed.
type Reason string

const (
	// ReasonAlreadySyncing: a cycle is already in flight.
	ReasonAlreadySyncing Reason = "already_syncing"
	// ReasonOffline: the connectivity precondition was not met.
	ReasonOffline Reason = "offline"
	// ReasonNotLoggedIn: no valid session.
	ReasonNotLoggedIn Reason = "not_logged_in"
	// ReasonError: the cycle started but aborted; see Err.
	ReasonError Reason = "error"
)

// SyncResult is the outcome of one Sync call. Callers always receive a
// result; cycle errors are captured here, never propagated as panics.
type SyncResult struct {
	Success   bool
	Reason    Reason
	Err       error
	Applied   int
	Received  int
	Conflicts int
}

// Config holds engine configuration.
type Config struct {
	// MaxRetries bounds automatic retries per queue item (default: 3).
	MaxRetries int

	// Logger for cycle activity.
	Logger *log.Logger

	// Clock overrides the time source. Intended for tests.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		Logger:     log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine orchestrates sync cycles over explicitly injected dependencies.
type Engine struct {
	store        *store.DB
	queue        *queue.Queue
	cursor       *cursor.Cursor
	endpoint     Endpoint
	session      Session
	connectivity Connectivity
	bus          *events.Bus

	maxRetries int
	logger     *log.Logger
	now        func() time.Time

	syncing atomic.Bool
}

// New creates an engine. All collaborators are required except bus, which
// may be nil when no one observes sync events.
func New(db *store.DB, q *queue.Queue, cur *cursor.Cursor, endpoint Endpoint,
	session Session, connectivity Connectivity, bus *events.Bus, config *Config) *Engine {

	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		store:        db,
		queue:        q,
		cursor:       cur,
		endpoint:     endpoint,
		session:      session,
		connectivity: connectivity,
		bus:          bus,
		maxRetries:   config.MaxRetries,
		logger:       config.Logger,
		now:          clock,
	}
}

// Syncing reports whether a cycle is currently in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// LastSyncTimestamp returns the current cursor in epoch milliseconds
// (0 = never synced).
func (e *Engine) LastSyncTimestamp() int64 {
	return e.cursor.Value()
}

// Status is a point-in-time snapshot of the sync state for status surfaces.
type Status struct {
	Online            bool   `json:"online"`
	Syncing           bool   `json:"syncing"`
	LoggedIn          bool   `json:"loggedIn"`
	LastSyncTimestamp int64  `json:"lastSyncTimestamp"`
	Documents         int    `json:"documents"`
	PendingChanges    int    `json:"pendingChanges"`
	FailedChanges     int    `json:"failedChanges"`
	TotalQueued       int    `json:"totalQueued"`
}

// CurrentStatus assembles the status snapshot.
func (e *Engine) CurrentStatus(ctx context.Context) (*Status, error) {
	counts, err := e.queue.Count(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := e.store.DocumentCount(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Online:            e.connectivity.Online(),
		Syncing:           e.syncing.Load(),
		LoggedIn:          e.session.IsLoggedIn(),
		LastSyncTimestamp: e.cursor.Value(),
		Documents:         docs,
		PendingChanges:    counts.Pending,
		FailedChanges:     counts.Failed,
		TotalQueued:       counts.Total,
	}, nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
