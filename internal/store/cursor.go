package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Cursor keys.
const (
	pullCursorPrefix = "pull:"
	pushCursorPrefix = "push:"
)

// PullCursorKey names the checkpoint of records pulled from peer.
func PullCursorKey(peer string) string { return pullCursorPrefix + peer }

// PushCursorKey names the checkpoint of changelog entries pushed to peer.
func PushCursorKey(peer string) string { return pushCursorPrefix + peer }

// Cursor returns a checkpoint value, or 0 if it has never been set.
func (s *Store) Cursor(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor %s: %w", name, err)
	}
	return v, nil
}

// SetCursor advances a checkpoint. A value lower than the stored one is
// ignored, so cursors never move backwards.
func (s *Store) SetCursor(ctx context.Context, name string, value int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return setCursor(ctx, tx, name, value)
	})
}

// Cursors returns every checkpoint by name.
func (s *Store) Cursors(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM cursors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return out, nil
}

func setCursor(ctx context.Context, tx *sql.Tx, name string, value int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursors (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)
	`, name, value)
	if err != nil {
		return fmt.Errorf("set cursor %s: %w", name, err)
	}
	return nil
}
