package queue

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openTestQueue(t *testing.T, max int) *Queue {
	t.Helper()
	conn, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	q := New(conn, max)
	if err := q.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return q
}

func TestEnqueueFIFO(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, id, document.ActionUpsert, nil); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("ListPending = %d items, want 3", len(pending))
	}
	for i, want := range []string{"a", "b", "c"} {
		if pending[i].DocID != want {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].DocID, want)
		}
	}
}

func TestEnqueueCollapsesPendingForSameDoc(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "other", document.ActionUpsert, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// A later delete supersedes the pending upsert for the same document.
	last, err := q.Enqueue(ctx, "doc-1", document.ActionDelete, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ListPending = %d items, want 2", len(pending))
	}
	var forDoc []*Item
	for _, item := range pending {
		if item.DocID == "doc-1" {
			forDoc = append(forDoc, item)
		}
	}
	if len(forDoc) != 1 || forDoc[0].ID != last.ID || forDoc[0].Action != document.ActionDelete {
		t.Errorf("collapse kept wrong item: %+v", forDoc)
	}
}

func TestEnqueueDoesNotCollapseSyncing(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkSyncing(ctx, first.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}

	if _, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := q.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSyncing {
		t.Errorf("in-flight item was collapsed: status = %s", got.Status)
	}
}

func TestQueueFull(t *testing.T) {
	q := openTestQueue(t, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := q.Enqueue(ctx, id, document.ActionUpsert, nil); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	if _, err := q.Enqueue(ctx, "c", document.ActionUpsert, nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	// Completed items do not count against the cap.
	pending, _ := q.ListPending(ctx)
	if err := q.MarkSyncing(ctx, pending[0].ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}
	if err := q.MarkCompleted(ctx, pending[0].ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "c", document.ActionUpsert, nil); err != nil {
		t.Errorf("Enqueue after completion failed: %v", err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Completing a pending item skips the syncing state.
	if err := q.MarkCompleted(ctx, item.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := q.MarkSyncing(ctx, item.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}
	if err := q.MarkRetry(ctx, item.ID, "connection refused"); err != nil {
		t.Fatalf("MarkRetry failed: %v", err)
	}

	got, err := q.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending || got.RetryCount != 1 || got.Error != "connection refused" {
		t.Errorf("after retry: %+v", got)
	}

	if err := q.MarkSyncing(ctx, item.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}
	if err := q.MarkCompleted(ctx, item.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	// Completed items are terminal until purged.
	if err := q.MarkSyncing(ctx, item.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestFailedLifecycle(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkFailed(ctx, item.ID, "max retries exceeded"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	failed, err := q.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "max retries exceeded" {
		t.Errorf("ListFailed = %+v", failed)
	}

	// Failed items never appear in the drain set.
	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("failed item leaked into pending: %+v", pending)
	}

	// Explicit user retry resets the budget.
	if err := q.RetryFailed(ctx, item.ID); err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	got, err := q.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending || got.RetryCount != 0 || got.Error != "" {
		t.Errorf("after user retry: %+v", got)
	}
}

func TestDiscardOnlyFailed(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := q.Discard(ctx, item.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("discarding a pending item should fail, got %v", err)
	}

	if err := q.MarkFailed(ctx, item.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := q.Discard(ctx, item.ID); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if _, err := q.Get(ctx, item.ID); err == nil {
		t.Error("discarded item still present")
	}
}

func TestResetStuckSyncing(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "doc-1", document.ActionUpsert, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkSyncing(ctx, item.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}

	n, err := q.ResetStuckSyncing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckSyncing failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d items, want 1", n)
	}

	got, err := q.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestPurgeCompleted(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	done, err := q.Enqueue(ctx, "done", document.ActionUpsert, nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "waiting", document.ActionUpsert, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.MarkSyncing(ctx, done.ID); err != nil {
		t.Fatalf("MarkSyncing failed: %v", err)
	}
	if err := q.MarkCompleted(ctx, done.ID); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	if err := q.PurgeCompleted(ctx); err != nil {
		t.Fatalf("PurgeCompleted failed: %v", err)
	}

	counts, err := q.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if counts.Total != 1 || counts.Pending != 1 {
		t.Errorf("counts after purge = %+v", counts)
	}
}

func TestItemDataSnapshot(t *testing.T) {
	q := openTestQueue(t, 0)
	ctx := context.Background()

	snapshot := &document.Document{
		DocID:   "doc-1",
		CloudID: "cloud-42",
		Title:   "Before delete",
	}
	if _, err := q.Enqueue(ctx, "doc-1", document.ActionDelete, snapshot); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := q.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if pending[0].Data == nil || pending[0].Data.CloudID != "cloud-42" {
		t.Errorf("snapshot lost: %+v", pending[0].Data)
	}
}
