// Package queue provides the durable sync queue: an ordered log of pending
// propagation intents, independent of document content.
//
// Each item records one intent (upsert or delete) for one document, with
// retry bookkeeping. Items move through a strict state machine:
//
//	pending -> syncing -> completed
//	pending -> syncing -> pending (retry, retryCount++)
//	pending -> syncing -> failed  (terminal, requires user action)
//
// The queue lives in its own table inside the store's SQLite database so
// intents survive restarts, but it is owned exclusively by the sync engine.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

// Status is the processing state of a queue item.
type Status string

const (
	// StatusPending marks an item waiting to be drained.
	StatusPending Status = "pending"
	// StatusSyncing marks an item currently being pushed to the remote.
	StatusSyncing Status = "syncing"
	// StatusCompleted marks a confirmed item awaiting garbage collection.
	StatusCompleted Status = "completed"
	// StatusFailed marks an item whose retry budget is exhausted.
	// Failed is terminal: the item is never retried automatically.
	StatusFailed Status = "failed"
)

// Item is one durable propagation intent.
type Item struct {
	ID         int64
	DocID      string
	Action     document.Action
	Data       *document.Document // optional snapshot, nil for deletes
	EnqueuedAt time.Time
	Status     Status
	RetryCount int
	Error      string
}

// ErrInvalidTransition is returned when a status change violates the item
// state machine (e.g. completing an item that was never marked syncing).
var ErrInvalidTransition = errors.New("invalid queue item transition")

// ErrQueueFull is returned when the offline queue cap is reached.
var ErrQueueFull = errors.New("sync queue is full")

// Queue is the durable sync queue backed by the shared SQLite connection.
type Queue struct {
	conn *sql.DB
	max  int // 0 = unbounded
	now  func() time.Time
}

// New creates a queue over an existing store connection.
// maxItems bounds the number of non-completed items (0 = unbounded).
func New(conn *sql.DB, maxItems int) *Queue {
	return &Queue{conn: conn, max: maxItems, now: time.Now}
}

// SetClock overrides the time source. Intended for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// InitSchema creates the queue table and status index. Idempotent.
func (q *Queue) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		action TEXT NOT NULL,
		data TEXT,
		enqueued_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_doc ON sync_queue(doc_id);
	`
	if _, err := q.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// Enqueue appends a new pending intent.
//
// Older pending items for the same document are collapsed: only the most
// recent intent survives, so a retried stale upsert can never undo a later
// delete. Items already syncing or failed are left untouched.
func (q *Queue) Enqueue(ctx context.Context, docID string, action document.Action, data *document.Document) (*Item, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("invalid action %q", action)
	}

	if q.max > 0 {
		var live int
		err := q.conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sync_queue WHERE status IN (?, ?)`,
			string(StatusPending), string(StatusSyncing)).Scan(&live)
		if err != nil {
			return nil, fmt.Errorf("failed to count queue items: %w", err)
		}
		if live >= q.max {
			return nil, ErrQueueFull
		}
	}

	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE doc_id = ? AND status = ?`,
		docID, string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collapse pending items for %s: %w", docID, err)
	}

	var dataJSON sql.NullString
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal item data: %w", err)
		}
		dataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	enqueuedAt := q.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (doc_id, action, data, enqueued_at, status, retry_count, error)
		VALUES (?, ?, ?, ?, ?, 0, '')`,
		docID, string(action), dataJSON,
		enqueuedAt.UTC().Format(time.RFC3339Nano), string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s for %s: %w", action, docID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue item id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	return &Item{
		ID:         id,
		DocID:      docID,
		Action:     action,
		Data:       data,
		EnqueuedAt: enqueuedAt,
		Status:     StatusPending,
	}, nil
}

// ListPending returns pending items in enqueue order (FIFO).
func (q *Queue) ListPending(ctx context.Context) ([]*Item, error) {
	return q.list(ctx, "WHERE status = ? ORDER BY id ASC", string(StatusPending))
}

// ListFailed returns terminally failed items in enqueue order.
func (q *Queue) ListFailed(ctx context.Context) ([]*Item, error) {
	return q.list(ctx, "WHERE status = ? ORDER BY id ASC", string(StatusFailed))
}

// Get retrieves one item by id.
func (q *Queue) Get(ctx context.Context, id int64) (*Item, error) {
	items, err := q.list(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("queue item %d: %w", id, sql.ErrNoRows)
	}
	return items[0], nil
}

// MarkSyncing transitions pending -> syncing.
func (q *Queue) MarkSyncing(ctx context.Context, id int64) error {
	return q.transition(ctx, id, StatusPending, StatusSyncing, "", false)
}

// MarkCompleted transitions syncing -> completed.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	return q.transition(ctx, id, StatusSyncing, StatusCompleted, "", false)
}

// MarkRetry transitions syncing -> pending and increments the retry count.
func (q *Queue) MarkRetry(ctx context.Context, id int64, cause string) error {
	return q.transition(ctx, id, StatusSyncing, StatusPending, cause, true)
}

// MarkFailed transitions an item to the terminal failed state from either
// pending (retry budget already exhausted at drain time) or syncing.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause string) error {
	res, err := q.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, error = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(StatusFailed), cause, id,
		string(StatusPending), string(StatusSyncing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark item %d failed: %w", id, err)
	}
	return q.checkAffected(res, id)
}

// RetryFailed is the explicit user action that returns a failed item to the
// pending state with a fresh retry budget.
func (q *Queue) RetryFailed(ctx context.Context, id int64) error {
	res, err := q.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, retry_count = 0, error = ''
		WHERE id = ? AND status = ?`,
		string(StatusPending), id, string(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to retry item %d: %w", id, err)
	}
	return q.checkAffected(res, id)
}

// Discard removes a failed item without syncing it.
func (q *Queue) Discard(ctx context.Context, id int64) error {
	res, err := q.conn.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE id = ? AND status = ?`,
		id, string(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to discard item %d: %w", id, err)
	}
	return q.checkAffected(res, id)
}

// ResetStuckSyncing flips any item left in syncing back to pending.
//
// Called at every cycle boundary so a crash or transport failure mid-drain
// never leaves an item permanently stuck in syncing.
func (q *Queue) ResetStuckSyncing(ctx context.Context) (int64, error) {
	res, err := q.conn.ExecContext(ctx, `
		UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(StatusPending), string(StatusSyncing),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeCompleted garbage-collects completed items. Safe to run at any time;
// pending, syncing and failed items are never removed.
func (q *Queue) PurgeCompleted(ctx context.Context) error {
	_, err := q.conn.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE status = ?", string(StatusCompleted))
	if err != nil {
		return fmt.Errorf("failed to purge completed items: %w", err)
	}
	return nil
}

// Counts summarizes the queue for status surfaces.
type Counts struct {
	Pending int
	Syncing int
	Failed  int
	Total   int
}

// Count returns per-status totals.
func (q *Queue) Count(ctx context.Context) (Counts, error) {
	rows, err := q.conn.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count queue items: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("failed to scan queue counts: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			c.Pending = n
		case StatusSyncing:
			c.Syncing = n
		case StatusFailed:
			c.Failed = n
		}
		c.Total += n
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("error iterating queue counts: %w", err)
	}
	return c, nil
}

func (q *Queue) transition(ctx context.Context, id int64, from, to Status, cause string, bumpRetry bool) error {
	query := "UPDATE sync_queue SET status = ?, error = ?"
	if bumpRetry {
		query += ", retry_count = retry_count + 1"
	}
	query += " WHERE id = ? AND status = ?"

	res, err := q.conn.ExecContext(ctx, query, string(to), cause, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition item %d to %s: %w", id, to, err)
	}
	return q.checkAffected(res, id)
}

func (q *Queue) checkAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (q *Queue) list(ctx context.Context, where string, args ...any) ([]*Item, error) {
	query := `
	SELECT id, doc_id, action, data, enqueued_at, status, retry_count, error
	FROM sync_queue ` + where

	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var (
			item       Item
			action     string
			dataJSON   sql.NullString
			enqueuedAt string
			status     string
		)
		err := rows.Scan(&item.ID, &item.DocID, &action, &dataJSON,
			&enqueuedAt, &status, &item.RetryCount, &item.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		item.Action = document.Action(action)
		item.Status = Status(status)
		if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			item.EnqueuedAt = t
		}
		if dataJSON.Valid {
			var doc document.Document
			if err := json.Unmarshal([]byte(dataJSON.String), &doc); err != nil {
				return nil, fmt.Errorf("failed to unmarshal item data: %w", err)
			}
			item.Data = &doc
		}

		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}
	return items, nil
}
