package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetMeta reads a metadata value. Returns ErrNotFound when the key is absent.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a metadata value, overwriting any existing one.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// DeleteMeta removes a metadata key. Absent keys are not an error.
func (db *DB) DeleteMeta(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM metadata WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete metadata %s: %w", key, err)
	}
	return nil
}
