package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/wire"
)

// Provenance describes where a write came from. It travels with the write
// into the changelog entry instead of living in ambient state.
type Provenance struct {
	// SyncOriginated is set when the write applies a peer's change.
	SyncOriginated bool

	// OriginSite is the site the change was first made on.
	OriginSite string

	// StoreScope is the owning store of the row; empty means global.
	StoreScope string
}

// WriteResult reports the effect of an Upsert or Delete.
type WriteResult struct {
	// Changed is false when the write was a no-op.
	Changed bool

	// Sequence is the changelog sequence of the entry written, if any.
	Sequence int64
}

// Upsert writes a row and its changelog entry in one transaction.
//
// Writing a row identical to the stored one (same fingerprint and scope)
// changes nothing and appends no changelog entry, so re-applying the same
// peer record is idempotent.
func (s *Store) Upsert(ctx context.Context, table string, r row.Row, p Provenance) (WriteResult, error) {
	id := r.ID()
	if id == "" {
		return WriteResult{}, fmt.Errorf("upsert %s: row has no id", table)
	}
	data, err := row.MarshalCanonical(r)
	if err != nil {
		return WriteResult{}, fmt.Errorf("upsert %s/%s: %w", table, id, err)
	}
	fingerprint, err := row.Fingerprint(r)
	if err != nil {
		return WriteResult{}, fmt.Errorf("upsert %s/%s: %w", table, id, err)
	}

	var result WriteResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			existing string
			scope    sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT fingerprint, store_id FROM records WHERE table_name = ? AND record_id = ?
		`, table, id).Scan(&existing, &scope)
		switch {
		case err == nil:
			if existing == fingerprint && scope.String == p.StoreScope {
				return nil
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("read %s/%s: %w", table, id, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (table_name, record_id, data, store_id, fingerprint, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(table_name, record_id) DO UPDATE SET
				data = excluded.data,
				store_id = excluded.store_id,
				fingerprint = excluded.fingerprint,
				updated_at = excluded.updated_at
		`, table, id, string(data), nullString(p.StoreScope), fingerprint, s.nowMillis())
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", table, id, err)
		}

		seq, err := s.appendChange(ctx, tx, ChangeLogEntry{
			TableName:      table,
			RecordID:       id,
			Action:         wire.ActionUpsert,
			StoreScope:     p.StoreScope,
			SyncOriginated: p.SyncOriginated,
			OriginSite:     p.OriginSite,
		})
		if err != nil {
			return err
		}
		result = WriteResult{Changed: true, Sequence: seq}
		return nil
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("upsert: %w", err)
	}
	return result, nil
}

// Delete removes a row and appends a changelog entry in one transaction.
// The entry carries the store scope recorded with the row, not p.StoreScope.
// Deleting an absent row is a no-op.
func (s *Store) Delete(ctx context.Context, table, id string, p Provenance) (WriteResult, error) {
	var result WriteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var scope sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT store_id FROM records WHERE table_name = ? AND record_id = ?
		`, table, id).Scan(&scope)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", table, id, err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM records WHERE table_name = ? AND record_id = ?
		`, table, id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", table, id, err)
		}

		seq, err := s.appendChange(ctx, tx, ChangeLogEntry{
			TableName:      table,
			RecordID:       id,
			Action:         wire.ActionDelete,
			StoreScope:     scope.String,
			SyncOriginated: p.SyncOriginated,
			OriginSite:     p.OriginSite,
		})
		if err != nil {
			return err
		}
		result = WriteResult{Changed: true, Sequence: seq}
		return nil
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("delete: %w", err)
	}
	return result, nil
}

// Get returns a stored row.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) Get(ctx context.Context, table, id string) (row.Row, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM records WHERE table_name = ? AND record_id = ?
	`, table, id).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	r, err := row.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return r, nil
}

// Exists reports whether a row is stored.
func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM records WHERE table_name = ? AND record_id = ?
	`, table, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", table, id, err)
	}
	return true, nil
}

// StoreScopeOf returns the store scope recorded with a row.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) StoreScopeOf(ctx context.Context, table, id string) (string, error) {
	var scope sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id FROM records WHERE table_name = ? AND record_id = ?
	`, table, id).Scan(&scope)
	if err != nil {
		return "", fmt.Errorf("scope of %s/%s: %w", table, id, err)
	}
	return scope.String, nil
}

// List returns every row of a table ordered by record id.
func (s *Store) List(ctx context.Context, table string) ([]row.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM records WHERE table_name = ? ORDER BY record_id ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []row.Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r, err := row.Unmarshal([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}
