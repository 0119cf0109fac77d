package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
	"github.com/tanghoong/browser-extension-inkshelf/internal/events"
	"github.com/tanghoong/browser-extension-inkshelf/internal/queue"
	"github.com/tanghoong/browser-extension-inkshelf/internal/store"
)

// SaveDocument writes a document locally and records the upsert intent in
// the durable queue. The local write succeeds even when the queue is full;
// the document is then picked up by the changeset of the next cycle anyway,
// since its sync status stays pending.
func (e *Engine) SaveDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	stored, err := e.store.Put(ctx, doc)
	if err != nil {
		return nil, err
	}

	if _, err := e.queue.Enqueue(ctx, stored.DocID, document.ActionUpsert, stored); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			e.logger.Printf("queue full, document %s will sync via changeset", stored.DocID)
		} else {
			return nil, fmt.Errorf("failed to enqueue upsert for %s: %w", stored.DocID, err)
		}
	}

	e.publish(events.Event{Type: events.TypeQueued, DocID: stored.DocID})
	return stored, nil
}

// DeleteDocument removes a document locally and records the delete intent.
// The pre-delete snapshot travels with the queue item so the remote identity
// (cloudID) survives the local removal.
func (e *Engine) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := e.store.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, docID); err != nil {
		return err
	}

	if _, err := e.queue.Enqueue(ctx, docID, document.ActionDelete, doc); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			// The local delete stands; the remote copy is orphaned until a
			// delete intent fits in the queue again.
			e.logger.Printf("queue full, delete of %s not recorded for sync", docID)
			return nil
		}
		return fmt.Errorf("failed to enqueue delete for %s: %w", docID, err)
	}

	e.publish(events.Event{Type: events.TypeQueued, DocID: docID})
	return nil
}
