package cloud

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

func TestApplyToOverwritesProvidedFields(t *testing.T) {
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	doc := &document.Document{
		DocID:     "doc-1",
		Title:     "Local title",
		Content:   "local body",
		URL:       "https://local",
		Tags:      []string{"local"},
		Starred:   true,
		Timestamp: created,
	}

	data := &DocumentData{
		Title:     ptr("Server title"),
		Tags:      []string{"server", "server"},
		UpdatedAt: 1700000000000,
	}
	data.ApplyTo(doc)

	if doc.Title != "Server title" {
		t.Errorf("Title = %q", doc.Title)
	}
	// Fields the server omitted keep their local values.
	if doc.Content != "local body" || doc.URL != "https://local" {
		t.Errorf("omitted fields overwritten: %+v", doc)
	}
	if !doc.Starred {
		t.Error("omitted Starred overwritten")
	}
	if len(doc.Tags) != 1 || doc.Tags[0] != "server" {
		t.Errorf("Tags = %v", doc.Tags)
	}
	if !doc.Timestamp.Equal(created) {
		t.Error("creation time overwritten")
	}
	if doc.UpdatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("UpdatedAt = %v", doc.UpdatedAt)
	}
}

func TestApplyToClearsExplicitlyEmptyFields(t *testing.T) {
	// A present-but-empty value is a deliberate clear, not an omission.
	doc := &document.Document{
		DocID:   "doc-1",
		Title:   "Keep me",
		Content: "body",
		URL:     "https://local",
		Tags:    []string{"a"},
		Starred: true,
	}

	data := &DocumentData{
		Content: ptr(""),
		URL:     ptr(""),
		Starred: ptr(false),
		Tags:    []string{},
	}
	data.ApplyTo(doc)

	if doc.Content != "" || doc.URL != "" {
		t.Errorf("cleared fields survived: %+v", doc)
	}
	if doc.Starred {
		t.Error("Starred not cleared")
	}
	if len(doc.Tags) != 0 {
		t.Errorf("Tags = %v", doc.Tags)
	}
	if doc.Title != "Keep me" {
		t.Errorf("omitted Title overwritten: %q", doc.Title)
	}
}

func TestWirePresenceSurvivesDecoding(t *testing.T) {
	var data DocumentData
	if err := json.Unmarshal([]byte(`{"content":"","updatedAt":100}`), &data); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if data.Content == nil || *data.Content != "" {
		t.Error("present-but-empty content decoded as absent")
	}
	if data.Title != nil {
		t.Error("absent title decoded as present")
	}
}

func TestDataFromDocumentRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	src := &document.Document{
		DocID:     "doc-1",
		Title:     "T",
		Content:   "body",
		URL:       "https://example.com",
		GroupID:   "research",
		GroupName: "Research",
		Tags:      []string{"go"},
		Starred:   true,
		Timestamp: created,
		UpdatedAt: updated,
	}

	data := DataFromDocument(src)
	if data.CreatedAt != created.UnixMilli() || data.UpdatedAt != updated.UnixMilli() {
		t.Errorf("timestamps = %d/%d", data.CreatedAt, data.UpdatedAt)
	}

	var dst document.Document
	dst.DocID = "doc-1"
	data.ApplyTo(&dst)

	if dst.Title != src.Title || dst.Content != src.Content || dst.GroupID != src.GroupID {
		t.Errorf("round trip mismatch: %+v", dst)
	}
	if !dst.Timestamp.Equal(created.UTC()) {
		t.Errorf("Timestamp = %v", dst.Timestamp)
	}
}
