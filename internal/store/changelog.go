package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/storesync/internal/wire"
)

// ChangeLogEntry is one mutation of a replicated record.
type ChangeLogEntry struct {
	Sequence  int64
	TableName string
	RecordID  string
	Action    wire.Action

	// StoreScope is the owning store; empty means global.
	StoreScope string

	// SyncOriginated marks entries written while integrating a peer's
	// change. The pusher never sends them back.
	SyncOriginated bool

	// OriginSite is the site where the change was first made.
	OriginSite string

	CreatedAt time.Time
}

// ChangeQuery selects changelog entries after a cursor.
type ChangeQuery struct {
	After int64

	// Table restricts the result to one local table when set.
	Table string

	// Limit bounds the page; zero means no limit.
	Limit int
}

// ChangesSince returns entries with sequence > q.After in sequence order.
func (s *Store) ChangesSince(ctx context.Context, q ChangeQuery) ([]ChangeLogEntry, error) {
	query := `
		SELECT seq, table_name, record_id, action, store_id, sync_originated, origin_site, created_at
		FROM changelog
		WHERE seq > ?`
	args := []any{q.After}
	if q.Table != "" {
		query += ` AND table_name = ?`
		args = append(args, q.Table)
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changelog: %w", err)
	}
	defer rows.Close()

	var entries []ChangeLogEntry
	for rows.Next() {
		var (
			e          ChangeLogEntry
			action     string
			storeID    sql.NullString
			syncOrigin int
			createdAt  int64
		)
		if err := rows.Scan(&e.Sequence, &e.TableName, &e.RecordID, &action, &storeID, &syncOrigin, &e.OriginSite, &createdAt); err != nil {
			return nil, fmt.Errorf("scan changelog entry: %w", err)
		}
		e.Action = wire.Action(action)
		e.StoreScope = storeID.String
		e.SyncOriginated = syncOrigin != 0
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changelog: %w", err)
	}
	return entries, nil
}

// MaxSequence returns the highest changelog sequence, or 0 for an empty log.
func (s *Store) MaxSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM changelog`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max changelog sequence: %w", err)
	}
	return seq.Int64, nil
}

// CountChangesSince counts entries after a cursor, for progress reporting.
func (s *Store) CountChangesSince(ctx context.Context, after int64) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changelog WHERE seq > ?`, after).Scan(&n); err != nil {
		return 0, fmt.Errorf("count changelog: %w", err)
	}
	return n, nil
}

func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, e ChangeLogEntry) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO changelog (table_name, record_id, action, store_id, sync_originated, origin_site, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.TableName,
		e.RecordID,
		string(e.Action),
		nullString(e.StoreScope),
		boolInt(e.SyncOriginated),
		e.OriginSite,
		s.nowMillis(),
	)
	if err != nil {
		return 0, fmt.Errorf("append changelog: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append changelog: %w", err)
	}
	return seq, nil
}
