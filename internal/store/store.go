// Package store provides the embedded SQLite document store for InkShelf.
//
// The store is the single source of truth for the local replica: documents
// and groups are owned exclusively by this package, keyed by their stable
// identifiers. It runs libSQL-compatible SQLite in embedded mode with WAL so
// reads stay concurrent with writes.
//
// Secondary lookups (group, tag membership, starred, changed-since) are
// index-backed; tags are stored as a JSON array and queried with json_each.
//
// Every mutation either fully commits or fully fails; there are no partial
// writes. Multi-row operations (group deletion with document reassignment)
// run inside a single transaction.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a document or group does not exist.
var ErrNotFound = errors.New("not found")

// ErrDefaultGroup is returned on attempts to delete the reserved group.
var ErrDefaultGroup = errors.New("default group cannot be deleted")

// DB wraps the SQLite connection with document-store functionality.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist it is created; call InitSchema before use.
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// The sync queue shares this connection with its own table.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// SetClock overrides the time source used when refreshing UpdatedAt.
// Intended for tests.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the document store schema if it doesn't exist and seeds
// the reserved default group. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		cloud_id TEXT,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL DEFAULT 'default',
		group_name TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',  -- JSON array
		starred INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL,
		-- Epoch milliseconds. TEXT timestamps compare lexicographically and
		-- variable-width fractions break chronological ordering; changed-since
		-- correctness depends on integer comparison here.
		updated_at INTEGER NOT NULL,
		synced_at TEXT,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS groups (
		group_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	-- Durable key/value storage for session state (tokens, user profile).
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_group ON documents(group_id);
	CREATE INDEX IF NOT EXISTS idx_documents_starred ON documents(starred);
	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
	CREATE INDEX IF NOT EXISTS idx_documents_sync_status ON documents(sync_status);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Seed the reserved group without clobbering user customizations.
	def := document.DefaultGroup()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO groups (group_id, name, color, icon, sort_order)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(group_id) DO NOTHING`,
		def.GroupID, def.Name, def.Color, def.Icon,
	)
	if err != nil {
		return fmt.Errorf("failed to seed default group: %w", err)
	}

	return nil
}

// Put upserts a document by DocID.
//
// UpdatedAt is always refreshed to the store's clock (and kept strictly
// increasing relative to the previously persisted value), tags are
// normalized, and an empty group falls back to the default group. Overwriting
// an existing document is not an error: last writer in process wins locally.
//
// The persisted document is returned.
func (db *DB) Put(ctx context.Context, doc *document.Document) (*document.Document, error) {
	stored := *doc

	stored.Tags = document.NormalizeTags(stored.Tags)
	if stored.GroupID == "" {
		stored.GroupID = document.DefaultGroupID
		if stored.GroupName == "" {
			stored.GroupName = document.DefaultGroupName
		}
	}
	if stored.Status == "" {
		stored.Status = document.StatusDraft
	}
	if stored.SyncStatus == "" {
		stored.SyncStatus = document.SyncPending
	}

	prev, err := db.Get(ctx, stored.DocID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if stored.Timestamp.IsZero() {
		if prev != nil {
			stored.Timestamp = prev.Timestamp
		} else {
			stored.Timestamp = db.now()
		}
	}

	// UpdatedAt strictly increases on every persisted mutation; it is the
	// sole basis for changed-since detection. Truncated to the persisted
	// millisecond granularity before the comparison so the strictness
	// guarantee survives the round trip through storage.
	stored.UpdatedAt = db.now().Truncate(time.Millisecond)
	if prev != nil && !stored.UpdatedAt.After(prev.UpdatedAt) {
		stored.UpdatedAt = prev.UpdatedAt.Add(time.Millisecond)
	}

	if err := stored.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	if err := db.writeDocument(ctx, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// PutSynced persists a document exactly as given, without refreshing
// UpdatedAt. This is the write path for applying remote-origin changes:
// re-applying the same server payload must leave the store unchanged and
// must not make the document appear locally modified.
func (db *DB) PutSynced(ctx context.Context, doc *document.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return db.writeDocument(ctx, doc)
}

func (db *DB) writeDocument(ctx context.Context, doc *document.Document) error {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	if doc.Tags == nil {
		tagsJSON = []byte("[]")
	}

	query := `
	INSERT INTO documents (
		doc_id, cloud_id, title, content, url, group_id, group_name,
		tags, starred, status, created_at, updated_at, synced_at, sync_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(doc_id) DO UPDATE SET
		cloud_id = excluded.cloud_id,
		title = excluded.title,
		content = excluded.content,
		url = excluded.url,
		group_id = excluded.group_id,
		group_name = excluded.group_name,
		tags = excluded.tags,
		starred = excluded.starred,
		status = excluded.status,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at,
		sync_status = excluded.sync_status
	`

	_, err = db.conn.ExecContext(ctx, query,
		doc.DocID,
		nullIfEmpty(doc.CloudID),
		doc.Title,
		doc.Content,
		doc.URL,
		doc.GroupID,
		doc.GroupName,
		string(tagsJSON),
		boolToInt(doc.Starred),
		string(doc.Status),
		doc.Timestamp.UTC().Format(time.RFC3339Nano),
		doc.UpdatedAt.UnixMilli(),
		timeToNullString(doc.SyncedAt),
		string(doc.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.DocID, err)
	}
	return nil
}

// Get retrieves a document by DocID. Returns ErrNotFound when absent.
func (db *DB) Get(ctx context.Context, docID string) (*document.Document, error) {
	row := db.conn.QueryRowContext(ctx, selectDocuments+" WHERE doc_id = ?", docID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", docID, err)
	}
	return doc, nil
}

// Delete removes a document. Deleting an absent document is not an error.
//
// The caller is responsible for also enqueueing the delete sync intent;
// durability of the delete is carried by the queue entry, not the record.
func (db *DB) Delete(ctx context.Context, docID string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM documents WHERE doc_id = ?", docID)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return nil
}

// MarkSynced records a remote acknowledgment: cloudID assignment plus
// synced bookkeeping. Missing documents are ignored (the doc may have been
// deleted locally while the ack was in flight).
func (db *DB) MarkSynced(ctx context.Context, docID, cloudID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE documents
		SET cloud_id = ?, synced_at = ?, sync_status = ?
		WHERE doc_id = ?`,
		cloudID, at.UTC().Format(time.RFC3339Nano), string(document.SyncSynced), docID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document %s synced: %w", docID, err)
	}
	return nil
}

// ListAll returns every document ordered by most recently updated first.
func (db *DB) ListAll(ctx context.Context) ([]*document.Document, error) {
	return db.queryDocuments(ctx, selectDocuments+" ORDER BY updated_at DESC")
}

// ListByGroup returns documents in the given group.
func (db *DB) ListByGroup(ctx context.Context, groupID string) ([]*document.Document, error) {
	return db.queryDocuments(ctx,
		selectDocuments+" WHERE group_id = ? ORDER BY updated_at DESC", groupID)
}

// ListByTag returns documents carrying the given tag.
func (db *DB) ListByTag(ctx context.Context, tag string) ([]*document.Document, error) {
	query := `
	SELECT DISTINCT d.doc_id, d.cloud_id, d.title, d.content, d.url,
	       d.group_id, d.group_name, d.tags, d.starred, d.status,
	       d.created_at, d.updated_at, d.synced_at, d.sync_status
	FROM documents d, json_each(d.tags)
	WHERE json_each.value = ?
	ORDER BY d.updated_at DESC
	`
	return db.queryDocuments(ctx, query, tag)
}

// ListStarred returns starred documents.
func (db *DB) ListStarred(ctx context.Context) ([]*document.Document, error) {
	return db.queryDocuments(ctx,
		selectDocuments+" WHERE starred = 1 ORDER BY updated_at DESC")
}

// ListChangedSince returns documents whose UpdatedAt is strictly after since.
// A zero since means "all documents" (first sync).
func (db *DB) ListChangedSince(ctx context.Context, since time.Time) ([]*document.Document, error) {
	if since.IsZero() {
		return db.queryDocuments(ctx, selectDocuments + " ORDER BY updated_at ASC")
	}
	return db.queryDocuments(ctx,
		selectDocuments+" WHERE updated_at > ? ORDER BY updated_at ASC",
		since.UnixMilli())
}

// DocumentCount returns the total number of documents.
func (db *DB) DocumentCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

const selectDocuments = `
	SELECT doc_id, cloud_id, title, content, url, group_id, group_name,
	       tags, starred, status, created_at, updated_at, synced_at, sync_status
	FROM documents`

func (db *DB) queryDocuments(ctx context.Context, query string, args ...any) ([]*document.Document, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*document.Document, error) {
	var (
		doc                document.Document
		cloudID, syncedAt  sql.NullString
		tagsJSON           string
		starred            int
		status, syncStatus string
		createdAt          string
		updatedAt          int64
	)

	err := row.Scan(
		&doc.DocID,
		&cloudID,
		&doc.Title,
		&doc.Content,
		&doc.URL,
		&doc.GroupID,
		&doc.GroupName,
		&tagsJSON,
		&starred,
		&status,
		&createdAt,
		&updatedAt,
		&syncedAt,
		&syncStatus,
	)
	if err != nil {
		return nil, err
	}

	doc.CloudID = cloudID.String
	doc.Starred = starred != 0
	doc.Status = document.Status(status)
	doc.SyncStatus = document.SyncStatus(syncStatus)

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		doc.Timestamp = t
	}
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if syncedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, syncedAt.String); err == nil {
			doc.SyncedAt = t
		}
	}

	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}

	return &doc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
