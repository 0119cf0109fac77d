package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/cloud"
	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
	"github.com/tanghoong/browser-extension-inkshelf/internal/queue"
	"github.com/tanghoong/browser-extension-inkshelf/internal/store"
)

// Sync runs one sync cycle.
//
// Preconditions are checked without transitioning state: offline or
// logged-out callers get a skip reason, not an error. Only one cycle may be
// active at a time; concurrent requests are rejected with
// ReasonAlreadySyncing.
func (e *Engine) Sync(ctx context.Context) SyncResult {
	if !e.syncing.CompareAndSwap(false, true) {
		return SyncResult{Success: false, Reason: ReasonAlreadySyncing}
	}
	defer e.syncing.Store(false)

	if !e.connectivity.Online() {
		return SyncResult{Success: false, Reason: ReasonOffline}
	}
	if !e.session.IsLoggedIn() {
		return SyncResult{Success: false, Reason: ReasonNotLoggedIn}
	}

	e.publish(events.Event{Type: events.TypeSyncStart})

	result, err := e.runCycle(ctx)
	if err != nil {
		e.logger.Printf("sync cycle aborted: %v", err)
		e.publish(events.Event{Type: events.TypeSyncError, Err: err})
		return SyncResult{Success: false, Reason: ReasonError, Err: err}
	}

	e.publish(events.Event{
		Type:      events.TypeSyncComplete,
		Applied:   result.Applied,
		Received:  result.Received,
		Conflicts: result.Conflicts,
	})
	return result
}

// runCycle executes steps 2-7 of the cycle. Any error aborts with the cursor
// unchanged; individual queue item transitions made before the error are
// durable and intentionally not rolled back.
func (e *Engine) runCycle(ctx context.Context) (SyncResult, error) {
	// A previous cycle that died mid-drain may have left items in syncing.
	// The cycle boundary clears them back to pending.
	if n, err := e.queue.ResetStuckSyncing(ctx); err != nil {
		return SyncResult{}, err
	} else if n > 0 {
		e.logger.Printf("recovered %d items stuck in syncing", n)
	}

	// Drain happens before changeset computation so completed deletes are
	// reflected before "changed since" upserts are collected. This order is
	// load-bearing.
	if err := e.drainQueue(ctx); err != nil {
		return SyncResult{}, err
	}

	changes, err := e.collectChanges(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	req := &cloud.SyncRequest{
		ClientTimestamp: e.now().UnixMilli(),
		Changes:         changes,
	}
	if e.cursor.Set() {
		last := e.cursor.Value()
		req.LastSyncTimestamp = &last
	}

	resp, err := e.endpoint.Sync(ctx, req)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync round trip failed: %w", err)
	}

	if err := e.applyResponse(ctx, resp); err != nil {
		return SyncResult{}, err
	}

	// The cursor advances only after the full round trip and application
	// succeeded; partial failures leave it untouched.
	if err := e.cursor.Advance(resp.ServerTimestamp); err != nil {
		return SyncResult{}, err
	}

	if err := e.queue.PurgeCompleted(ctx); err != nil {
		return SyncResult{}, err
	}

	return SyncResult{
		Success:   true,
		Applied:   len(resp.Applied),
		Received:  len(resp.ServerChanges),
		Conflicts: len(resp.Conflicts),
	}, nil
}

// drainQueue processes every pending queue item up to its retry budget.
//
// Upsert intents ride the changeset of the round trip; draining them only
// advances their status. Delete intents for documents that reached the
// remote store (known cloudID) perform the remote delete call here. Failures
// requeue the item with an incremented retry count; items at the budget are
// failed without attempting network I/O.
func (e *Engine) drainQueue(ctx context.Context) error {
	items, err := e.queue.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.RetryCount >= e.maxRetries {
			if err := e.queue.MarkFailed(ctx, item.ID, "max retries exceeded"); err != nil {
				return err
			}
			e.logger.Printf("item %d (%s %s) failed permanently after %d retries",
				item.ID, item.Action, item.DocID, item.RetryCount)
			continue
		}

		if err := e.queue.MarkSyncing(ctx, item.ID); err != nil {
			return err
		}

		if err := e.processItem(ctx, item); err != nil {
			e.logger.Printf("failed to process item %d (%s %s): %v",
				item.ID, item.Action, item.DocID, err)
			if err := e.queue.MarkRetry(ctx, item.ID, err.Error()); err != nil {
				return err
			}
			continue
		}

		if err := e.queue.MarkCompleted(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processItem(ctx context.Context, item *queue.Item) error {
	if item.Action != document.ActionDelete {
		return nil
	}

	// The document is already gone locally; the enqueue-time snapshot
	// carries the remote identity needed for the delete call.
	if item.Data == nil || item.Data.CloudID == "" {
		// Never synced: nothing to delete remotely.
		return nil
	}
	return e.endpoint.DeleteDocument(ctx, item.Data.CloudID)
}

// collectChanges builds the changeset for one round trip: every document
// changed since the cursor as an upsert, plus pending delete intents.
func (e *Engine) collectChanges(ctx context.Context) ([]cloud.Change, error) {
	var since time.Time
	if e.cursor.Set() {
		since = time.UnixMilli(e.cursor.Value())
	}

	docs, err := e.store.ListChangedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	changes := make([]cloud.Change, 0, len(docs))
	for _, doc := range docs {
		changes = append(changes, cloud.Change{
			DocID:     doc.DocID,
			Action:    document.ActionUpsert,
			Data:      cloud.DataFromDocument(doc),
			UpdatedAt: doc.UpdatedAt.UnixMilli(),
		})
	}

	// Deletes that could not complete during the drain still need to reach
	// the server; they travel as delete changes.
	pending, err := e.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range pending {
		if item.Action != document.ActionDelete {
			continue
		}
		// Tombstone grace: if the document was recreated after the delete
		// intent was enqueued, the recreation wins and the stale delete is
		// not propagated.
		if doc, err := e.store.Get(ctx, item.DocID); err == nil && doc.UpdatedAt.After(item.EnqueuedAt) {
			continue
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		changes = append(changes, cloud.Change{
			DocID:     item.DocID,
			Action:    document.ActionDelete,
			UpdatedAt: item.EnqueuedAt.UnixMilli(),
		})
	}

	return changes, nil
}

// applyResponse applies acknowledgments, conflict verdicts and remote-origin
// changes from one round trip. Application is idempotent: re-applying the
// same payload leaves the store unchanged.
func (e *Engine) applyResponse(ctx context.Context, resp *cloud.SyncResponse) error {
	now := e.now()

	for _, ack := range resp.Applied {
		if err := e.store.MarkSynced(ctx, ack.DocID, ack.CloudID, now); err != nil {
			return err
		}
	}

	for _, conflict := range resp.Conflicts {
		if conflict.Resolution != cloud.ResolutionServerWins || conflict.ServerData == nil {
			continue
		}
		doc, err := e.store.Get(ctx, conflict.DocID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		// The server is the sole arbiter: its data overwrites local fields
		// with no local timestamp comparison.
		conflict.ServerData.ApplyTo(doc)
		doc.SyncedAt = now
		doc.SyncStatus = document.SyncSynced
		if err := e.store.PutSynced(ctx, doc); err != nil {
			return err
		}

		e.publish(events.Event{Type: events.TypeConflictResolved, DocID: conflict.DocID})
	}

	for _, change := range resp.ServerChanges {
		switch change.Action {
		case document.ActionUpsert:
			if err := e.applyServerUpsert(ctx, change, now); err != nil {
				return err
			}
		case document.ActionDelete:
			if err := e.applyServerDelete(ctx, change); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) applyServerUpsert(ctx context.Context, change cloud.ServerChange, now time.Time) error {
	doc, err := e.store.Get(ctx, change.DocID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if doc == nil {
		// New document from another device.
		doc = &document.Document{
			DocID:     change.DocID,
			Timestamp: now,
			UpdatedAt: now,
			Status:    document.StatusSaved,
		}
	}

	if change.Data != nil {
		change.Data.ApplyTo(doc)
	}
	if change.CloudID != "" {
		doc.CloudID = change.CloudID
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}
	doc.SyncedAt = now
	doc.SyncStatus = document.SyncSynced

	return e.store.PutSynced(ctx, doc)
}

// applyServerDelete removes the local record for a remote-origin delete.
//
// Policy for the delete/recreate race: a local document with changes newer
// than the cursor was written after the server computed this delete, so the
// recreation wins and the delete is skipped; the recreated document syncs on
// the next cycle.
func (e *Engine) applyServerDelete(ctx context.Context, change cloud.ServerChange) error {
	doc, err := e.store.Get(ctx, change.DocID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if e.cursor.Set() && doc.UpdatedAt.UnixMilli() > e.cursor.Value() {
		e.logger.Printf("skipping server delete of %s: local copy is newer", change.DocID)
		return nil
	}

	return e.store.Delete(ctx, change.DocID)
}
