package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tanghoong/browser-extension-inkshelf/internal/document"
)

// SaveGroup upserts a group by GroupID.
func (db *DB) SaveGroup(ctx context.Context, group *document.Group) error {
	if err := group.Validate(); err != nil {
		return fmt.Errorf("invalid group: %w", err)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO groups (group_id, name, color, icon, sort_order)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			icon = excluded.icon,
			sort_order = excluded.sort_order`,
		group.GroupID, group.Name, group.Color, group.Icon, group.Order,
	)
	if err != nil {
		return fmt.Errorf("failed to save group %s: %w", group.GroupID, err)
	}
	return nil
}

// GetGroup retrieves a group by GroupID. Returns ErrNotFound when absent.
func (db *DB) GetGroup(ctx context.Context, groupID string) (*document.Group, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT group_id, name, color, icon, sort_order
		FROM groups WHERE group_id = ?`, groupID)

	var g document.Group
	err := row.Scan(&g.GroupID, &g.Name, &g.Color, &g.Icon, &g.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group %s: %w", groupID, err)
	}
	return &g, nil
}

// ListGroups returns all groups ordered by sort order, default group first.
func (db *DB) ListGroups(ctx context.Context) ([]*document.Group, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT group_id, name, color, icon, sort_order
		FROM groups
		ORDER BY group_id = ? DESC, sort_order ASC, name ASC`,
		document.DefaultGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*document.Group
	for rows.Next() {
		var g document.Group
		if err := rows.Scan(&g.GroupID, &g.Name, &g.Color, &g.Icon, &g.Order); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes a group and reassigns its member documents to the
// default group as a single logical operation. Deleting the default group
// returns ErrDefaultGroup.
func (db *DB) DeleteGroup(ctx context.Context, groupID string) error {
	if groupID == document.DefaultGroupID {
		return ErrDefaultGroup
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Member documents cascade to the default group, never dangle. The
	// reassignment is a mutation like any other: updated_at advances
	// (strictly, per document) so the move enters the next changeset and
	// reaches the remote replica.
	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET group_id = ?, group_name = ?,
		    updated_at = MAX(updated_at + 1, ?),
		    sync_status = ?
		WHERE group_id = ?`,
		document.DefaultGroupID, document.DefaultGroupName,
		db.now().UnixMilli(), string(document.SyncPending), groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to reassign documents from group %s: %w", groupID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group deletion: %w", err)
	}
	return nil
}
