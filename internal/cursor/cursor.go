// Package cursor persists the sync cursor: a single scalar marking the
// boundary of already-synced state.
//
// The cursor is deliberately kept outside the transactional store as a plain
// file so it can be read and advanced without touching the database. Writes
// go through a temp file and rename, so the value is always either the old
// or the new timestamp, never a torn write.
package cursor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Cursor is a durable epoch-millisecond timestamp. The zero value means
// "never synced"; Advance enforces monotonic non-decrease.
type Cursor struct {
	mu    sync.Mutex
	path  string
	value int64
}

// Load opens (or initializes) the cursor file at path.
// A missing file yields an unset cursor, not an error.
func Load(path string) (*Cursor, error) {
	c := &Cursor{path: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor file: %w", err)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cursor file %s: %w", path, err)
	}
	c.value = value
	return c, nil
}

// Value returns the current cursor in epoch milliseconds (0 = unset).
func (c *Cursor) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set reports whether the cursor has ever been advanced.
func (c *Cursor) Set() bool {
	return c.Value() != 0
}

// Advance durably moves the cursor forward to ts (epoch milliseconds).
// Moving backwards is rejected: the cursor is monotonically non-decreasing.
func (c *Cursor) Advance(ts int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts < c.value {
		return fmt.Errorf("cursor moved backwards: %d < %d", ts, c.value)
	}
	if ts == c.value {
		return nil
	}

	if err := writeAtomic(c.path, strconv.FormatInt(ts, 10)); err != nil {
		return err
	}
	c.value = ts
	return nil
}

// Reset clears the cursor, forcing the next cycle to treat every document
// as changed. Used on logout/login across accounts.
func (c *Cursor) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cursor file: %w", err)
	}
	c.value = 0
	return nil
}

func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cursor directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cursor-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cursor file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close cursor file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}
	return nil
}
