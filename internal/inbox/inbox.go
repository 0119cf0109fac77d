// Package inbox imports Markdown files dropped into a watched directory.
//
// Files ending in .md are parsed (optional YAML front matter plus body),
// saved as documents through the engine so they enter the sync queue, and
// removed from the inbox on success. Failed files are left in place and
// retried on the next write event.
package inbox

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
	"github.com/tanghoong/browser-extension-inkshelf/internal/engine"
)

// Saver persists an imported document. *engine.Engine satisfies this.
type Saver interface {
	SaveDocument(ctx context.Context, doc *document.Document) (*document.Document, error)
}

var _ Saver = (*engine.Engine)(nil)

// Config holds inbox configuration.
type Config struct {
	// Dir is the watched directory. Created if missing.
	Dir string

	// Debounce delays ingestion after the last write event for a file, so
	// partially written files settle first (default: 500ms).
	Debounce time.Duration

	// Logger for inbox activity.
	Logger *log.Logger
}

// Inbox watches one directory and feeds files into the document store.
type Inbox struct {
	saver    Saver
	dir      string
	debounce time.Duration
	logger   *log.Logger

	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates an inbox watching config.Dir.
func New(saver Saver, config *Config) (*Inbox, error) {
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}

	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Inbox{
		saver:    saver,
		dir:      config.Dir,
		debounce: config.Debounce,
		logger:   config.Logger,
		watcher:  watcher,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start ingests files already sitting in the inbox, then begins watching for
// new ones.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = true
	in.mu.Unlock()

	if err := in.watcher.Add(in.dir); err != nil {
		return err
	}

	in.sweep(ctx)

	in.wg.Add(1)
	go in.loop(ctx)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (in *Inbox) Stop() error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = false
	for _, t := range in.timers {
		t.Stop()
	}
	in.mu.Unlock()

	close(in.done)
	err := in.watcher.Close()
	in.wg.Wait()
	return err
}

func (in *Inbox) loop(ctx context.Context) {
	defer in.wg.Done()

	for {
		select {
		case <-in.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			in.schedule(ctx, event.Name)
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Printf("watch error: %v", err)
		}
	}
}

// schedule (re)arms the per-file debounce timer.
func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.running {
		return
	}
	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()
		in.ingest(ctx, path)
	})
}

// sweep ingests every .md file present at startup.
func (in *Inbox) sweep(ctx context.Context) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Printf("failed to read inbox directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		in.ingest(ctx, filepath.Join(in.dir, entry.Name()))
	}
}

// ingest parses and imports one file. Per-file failures are logged and leave
// the file in place; they never stop the inbox.
func (in *Inbox) ingest(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			in.logger.Printf("failed to read %s: %v", path, err)
		}
		return
	}

	doc, err := parse(path, string(raw))
	if err != nil {
		in.logger.Printf("skipping %s: %v", path, err)
		return
	}

	if _, err := in.saver.SaveDocument(ctx, doc); err != nil {
		in.logger.Printf("failed to import %s: %v", path, err)
		return
	}

	if err := os.Remove(path); err != nil {
		in.logger.Printf("imported %s but could not remove it: %v", path, err)
		return
	}
	in.logger.Printf("imported %s as %s", filepath.Base(path), doc.DocID)
}

// parse turns a Markdown file into a document. Front matter supplies title,
// group, tags and starred; a missing title falls back to the file name
// without extension.
func parse(path, content string) (*document.Document, error) {
	fm, body, err := document.SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}

	doc := &document.Document{
		DocID:   uuid.NewString(),
		Content: body,
		Status:  document.StatusSaved,
	}

	if fm != nil {
		doc.Title = fm.Title
		doc.URL = fm.URL
		doc.GroupID = fm.Group
		doc.Tags = fm.Tags
		doc.Starred = fm.Starred
	}
	if doc.Title == "" {
		base := filepath.Base(path)
		doc.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return doc, nil
}
