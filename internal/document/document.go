// Package document provides the data structures for InkShelf documents and
// groups.
//
// A Document is one captured piece of web content: Markdown text with optional
// YAML front matter plus metadata (title, source URL, group, tags, star flag).
// Fields are flat with last-write-wins semantics; UpdatedAt is the sole basis
// for change detection and conflict tie-breaking during sync.
package document

import (
	"fmt"
	"strings"
	"time"
)

// Status is the local lifecycle state of a document.
type Status string

const (
	// StatusDraft marks a document that has never been explicitly saved.
	StatusDraft Status = "draft"
	// StatusSaved marks a document the user has explicitly saved.
	StatusSaved Status = "saved"
)

// SyncStatus is the cloud synchronization state of a document.
type SyncStatus string

const (
	// SyncPending means the document has local changes not yet confirmed
	// by the remote store.
	SyncPending SyncStatus = "pending"
	// SyncSynced means the last local change has been acknowledged.
	SyncSynced SyncStatus = "synced"
	// SyncConflict means the remote store reported a conflict that has
	// not been resolved yet.
	SyncConflict SyncStatus = "conflict"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncConflict:
		return true
	}
	return false
}

// Document represents one captured/edited piece of content.
type Document struct {
	// ===== Identity =====
	DocID   string `json:"docId"`
	CloudID string `json:"cloudId,omitempty"` // assigned by the remote store, empty until first sync

	// ===== Content =====
	Title   string `json:"title"`
	Content string `json:"content"` // Markdown, optional YAML front matter
	URL     string `json:"url,omitempty"`

	// ===== Classification =====
	GroupID   string   `json:"groupId"`
	GroupName string   `json:"groupName,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Starred   bool     `json:"starred"`
	Status    Status   `json:"status"`

	// ===== Timestamps =====
	Timestamp time.Time `json:"timestamp"` // creation time, immutable
	UpdatedAt time.Time `json:"updatedAt"` // refreshed on every local mutation

	// ===== Sync bookkeeping =====
	SyncedAt   time.Time  `json:"syncedAt,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus"`
}

// Validate checks the document for storable field values.
func (d *Document) Validate() error {
	if d.DocID == "" {
		return fmt.Errorf("docId is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if d.SyncStatus != "" && !d.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync status %q", d.SyncStatus)
	}
	return nil
}

// NormalizeTags trims, lowercases nothing, drops empties and deduplicates
// while preserving first-seen order. The store applies this on every put so
// persisted tag sets are always clean.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.TrimSpace(tag)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
