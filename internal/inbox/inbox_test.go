package inbox

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

type recordingSaver struct {
	saved chan *document.Document
}

func newRecordingSaver() *recordingSaver {
	return &recordingSaver{saved: make(chan *document.Document, 16)}
}

func (s *recordingSaver) SaveDocument(ctx context.Context, doc *document.Document) (*document.Document, error) {
	s.saved <- doc
	return doc, nil
}

func startTestInbox(t *testing.T, dir string, saver Saver) *Inbox {
	t.Helper()
	in, err := New(saver, &Config{
		Dir:      dir,
		Debounce: 20 * time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create inbox: %v", err)
	}
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("failed to start inbox: %v", err)
	}
	t.Cleanup(func() { _ = in.Stop() })
	return in
}

func waitSaved(t *testing.T, s *recordingSaver) *document.Document {
	t.Helper()
	select {
	case doc := <-s.saved:
		return doc
	case <-time.After(3 * time.Second):
		t.Fatal("no document imported")
		return nil
	}
}

func TestSweepImportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reading-notes.md")
	content := "---\ntitle: Reading Notes\ntags: [books, summer]\nstarred: true\n---\nSome thoughts.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	saver := newRecordingSaver()
	startTestInbox(t, dir, saver)

	doc := waitSaved(t, saver)
	if doc.Title != "Reading Notes" {
		t.Errorf("title = %q", doc.Title)
	}
	if len(doc.Tags) != 2 || doc.Tags[0] != "books" {
		t.Errorf("tags = %v", doc.Tags)
	}
	if !doc.Starred {
		t.Error("starred not carried from front matter")
	}
	if doc.Content != "Some thoughts.\n" {
		t.Errorf("content = %q", doc.Content)
	}
	if doc.Status != document.StatusSaved {
		t.Errorf("status = %q", doc.Status)
	}

	// Imported files are removed from the inbox.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("imported file still present")
	}
}

func TestWatchImportsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	saver := newRecordingSaver()
	startTestInbox(t, dir, saver)

	path := filepath.Join(dir, "dropped.md")
	if err := os.WriteFile(path, []byte("no front matter here\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc := waitSaved(t, saver)
	// Title falls back to the file name without extension.
	if doc.Title != "dropped" {
		t.Errorf("title = %q", doc.Title)
	}
	if doc.Content != "no front matter here\n" {
		t.Errorf("content = %q", doc.Content)
	}
	if doc.DocID == "" {
		t.Error("document id not assigned")
	}
}

func TestNonMarkdownIgnored(t *testing.T) {
	dir := t.TempDir()
	saver := newRecordingSaver()
	startTestInbox(t, dir, saver)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case doc := <-saver.saved:
		t.Fatalf("unexpected import %+v", doc)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMalformedFileLeftInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.md")
	if err := os.WriteFile(path, []byte("---\ntags: [\n---\nbody\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	saver := newRecordingSaver()
	startTestInbox(t, dir, saver)

	select {
	case doc := <-saver.saved:
		t.Fatalf("unexpected import %+v", doc)
	case <-time.After(200 * time.Millisecond):
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("broken file should stay in the inbox: %v", err)
	}
}
