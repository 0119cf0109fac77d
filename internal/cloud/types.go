// Package cloud implements the client for the remote sync endpoint.
//
// The exchange is a single authenticated request/response round trip: the
// client sends its changeset since the last cursor and receives
// acknowledgments, remote-origin changes and conflict verdicts. All
// timestamps on the wire are epoch milliseconds.
package cloud

import (
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

// Change is one document-level change in a sync request.
type Change struct {
	DocID     string           `json:"docId"`
	Action    document.Action  `json:"action"`
	Data      *DocumentData    `json:"data,omitempty"`
	UpdatedAt int64            `json:"updatedAt"`
}

// DocumentData carries the mutable document fields on the wire.
//
// Scalar fields are pointers so a key that is present but empty (the server
// clearing a field) is distinguishable from a key that is absent (the field
// untouched). Tags follow the same rule through slice nilness: an absent key
// decodes to nil, an explicit empty array clears the tags.
type DocumentData struct {
	Title     *string  `json:"title,omitempty"`
	Content   *string  `json:"content,omitempty"`
	URL       *string  `json:"url,omitempty"`
	GroupID   *string  `json:"groupId,omitempty"`
	GroupName *string  `json:"groupName,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Starred   *bool    `json:"starred,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	UpdatedAt int64    `json:"updatedAt,omitempty"`
}

// SyncRequest is the request body for the sync round trip.
type SyncRequest struct {
	ClientTimestamp   int64    `json:"clientTimestamp"`
	LastSyncTimestamp *int64   `json:"lastSyncTimestamp"`
	Changes           []Change `json:"changes"`
}

// Applied acknowledges one accepted client change with the remote identity
// assigned to the document.
type Applied struct {
	DocID   string `json:"docId"`
	CloudID string `json:"cloudId"`
}

// ServerChange is one remote-origin change to apply locally.
type ServerChange struct {
	DocID   string          `json:"docId"`
	CloudID string          `json:"cloudId,omitempty"`
	Action  document.Action `json:"action"`
	Data    *DocumentData   `json:"data,omitempty"`
}

// ResolutionServerWins is the only conflict resolution the endpoint emits:
// the remote replica's data unconditionally overwrites local data.
const ResolutionServerWins = "server_wins"

// Conflict is the server's verdict on one conflicting document.
type Conflict struct {
	DocID      string        `json:"docId"`
	Resolution string        `json:"resolution"`
	ServerData *DocumentData `json:"serverData,omitempty"`
}

// SyncResponse is the response body of the sync round trip.
type SyncResponse struct {
	ServerTimestamp int64          `json:"serverTimestamp"`
	Applied         []Applied      `json:"applied"`
	ServerChanges   []ServerChange `json:"serverChanges"`
	Conflicts       []Conflict     `json:"conflicts"`
}

// DataFromDocument projects a local document onto the wire shape. The local
// replica always owns every field, so all of them are sent.
func DataFromDocument(d *document.Document) *DocumentData {
	return &DocumentData{
		Title:     ptr(d.Title),
		Content:   ptr(d.Content),
		URL:       ptr(d.URL),
		GroupID:   ptr(d.GroupID),
		GroupName: ptr(d.GroupName),
		Tags:      d.Tags,
		Starred:   ptr(d.Starred),
		CreatedAt: toMillis(d.Timestamp),
		UpdatedAt: toMillis(d.UpdatedAt),
	}
}

// ApplyTo field-merges the wire data into an existing local document: present
// fields overwrite (an explicit empty value clears the field), absent fields
// are preserved.
func (dd *DocumentData) ApplyTo(doc *document.Document) {
	if dd.Title != nil {
		doc.Title = *dd.Title
	}
	if dd.Content != nil {
		doc.Content = *dd.Content
	}
	if dd.URL != nil {
		doc.URL = *dd.URL
	}
	if dd.GroupID != nil {
		doc.GroupID = *dd.GroupID
	}
	if dd.GroupName != nil {
		doc.GroupName = *dd.GroupName
	}
	if dd.Tags != nil {
		doc.Tags = document.NormalizeTags(dd.Tags)
	}
	if dd.Starred != nil {
		doc.Starred = *dd.Starred
	}
	if dd.CreatedAt != 0 && doc.Timestamp.IsZero() {
		doc.Timestamp = fromMillis(dd.CreatedAt)
	}
	if dd.UpdatedAt != 0 {
		doc.UpdatedAt = fromMillis(dd.UpdatedAt)
	}
}

func ptr[T any](v T) *T {
	return &v
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
