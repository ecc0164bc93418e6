package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/storesync/internal/wire"
)

// BufferRecord is a peer record staged for integration.
type BufferRecord struct {
	ID           int64
	SourceSite   string
	TableName    string // wire table name
	RecordID     string
	Action       wire.Action
	Payload      []byte
	PeerSequence int64
	ReceivedAt   time.Time

	// IntegratedAt is set once, when the record is integrated or superseded.
	IntegratedAt *time.Time

	// LastError holds the most recent integration failure while pending.
	LastError string

	Attempts    int
	Quarantined bool
}

// Pending reports whether the record still awaits integration.
func (r BufferRecord) Pending() bool {
	return r.IntegratedAt == nil
}

// BufferStats summarises the sync buffer.
type BufferStats struct {
	Total       int64 `json:"total"`
	Integrated  int64 `json:"integrated"`
	Pending     int64 `json:"pending"`
	Failing     int64 `json:"failing"`
	Quarantined int64 `json:"quarantined"`
}

// StagePage inserts a page of peer records and, in the same transaction,
// advances cursorKey to cursor. Every record must carry its peer sequence.
//
// Records already staged under the same (source, table, record, sequence)
// are ignored, so a redelivered page stages nothing new. An empty cursorKey
// stages without touching any cursor.
func (s *Store) StagePage(ctx context.Context, sourceSite string, records []wire.Record, cursorKey string, cursor int64) (inserted int, err error) {
	now := s.nowMillis()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_buffer
			(source_site, table_name, record_id, action, payload, peer_sequence, received_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_site, table_name, record_id, peer_sequence) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			res, err := stmt.ExecContext(ctx,
				sourceSite,
				rec.TableName,
				rec.RecordID,
				string(rec.Action),
				string(rec.Data),
				rec.Sequence,
				now,
			)
			if err != nil {
				return fmt.Errorf("insert %s/%s: %w", rec.TableName, rec.RecordID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert %s/%s: %w", rec.TableName, rec.RecordID, err)
			}
			inserted += int(n)
		}

		if cursorKey != "" {
			if err := setCursor(ctx, tx, cursorKey, cursor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("stage page: %w", err)
	}
	return inserted, nil
}

// PendingRecords returns records of the given wire tables that are neither
// integrated nor quarantined, in arrival order.
func (s *Store) PendingRecords(ctx context.Context, wireTables []string) ([]BufferRecord, error) {
	if len(wireTables) == 0 {
		return nil, nil
	}
	in, args := inClause(wireTables)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bufferColumns+`
		FROM sync_buffer
		WHERE table_name IN (`+in+`) AND integrated_at IS NULL AND quarantined = 0
		ORDER BY id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending records: %w", err)
	}
	return scanBufferRecords(rows)
}

// CountPending counts records awaiting integration, excluding quarantined ones.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_buffer WHERE integrated_at IS NULL AND quarantined = 0
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending records: %w", err)
	}
	return n, nil
}

// SupersedeStale marks pending records as integrated when a later record for
// the same table and record id has been staged. Integrating the older one
// afterwards would overwrite newer data. Superseding is terminal: the record
// is never applied, its error is cleared and quarantine no longer holds it.
func (s *Store) SupersedeStale(ctx context.Context, wireTables []string) (int64, error) {
	if len(wireTables) == 0 {
		return 0, nil
	}
	in, args := inClause(wireTables)
	query := `
		UPDATE sync_buffer SET integrated_at = ?, last_error = NULL
		WHERE integrated_at IS NULL
		  AND table_name IN (` + in + `)
		  AND EXISTS (
			SELECT 1 FROM sync_buffer newer
			WHERE newer.table_name IN (` + in + `)
			  AND newer.record_id = sync_buffer.record_id
			  AND newer.id > sync_buffer.id
		  )`
	all := append([]any{s.nowMillis()}, args...)
	all = append(all, args...)

	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return 0, fmt.Errorf("supersede stale records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("supersede stale records: %w", err)
	}
	return n, nil
}

// MarkIntegrated records a successful integration. A record that is already
// integrated keeps its original timestamp.
func (s *Store) MarkIntegrated(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_buffer
		SET integrated_at = ?, last_error = NULL, attempts = attempts + 1
		WHERE id = ? AND integrated_at IS NULL
	`, s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark integrated %d: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed integration attempt. Once attempts reach
// maxAttempts the record is quarantined and skipped by PendingRecords until
// released. maxAttempts <= 0 never quarantines.
func (s *Store) MarkFailed(ctx context.Context, id int64, msg string, maxAttempts int) (quarantined bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx, `
			UPDATE sync_buffer
			SET last_error = ?, attempts = attempts + 1
			WHERE id = ? AND integrated_at IS NULL
			RETURNING attempts
		`, msg, id).Scan(&attempts)
		if err != nil {
			return err
		}
		if maxAttempts > 0 && attempts >= maxAttempts {
			if _, err := tx.ExecContext(ctx, `UPDATE sync_buffer SET quarantined = 1 WHERE id = ?`, id); err != nil {
				return err
			}
			quarantined = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark failed %d: %w", id, err)
	}
	return quarantined, nil
}

// ReleaseQuarantined returns quarantined records to the pending set with a
// fresh attempt budget. With no ids every quarantined record is released.
func (s *Store) ReleaseQuarantined(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE sync_buffer SET quarantined = 0, attempts = 0 WHERE quarantined = 1`
	var args []any
	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		query += ` AND id IN (` + placeholders + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("release quarantined: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release quarantined: %w", err)
	}
	return n, nil
}

// FailedRecords returns pending records with a recorded error, quarantined
// or not, oldest first. limit <= 0 means no limit.
func (s *Store) FailedRecords(ctx context.Context, limit int) ([]BufferRecord, error) {
	query := `
		SELECT ` + bufferColumns + `
		FROM sync_buffer
		WHERE integrated_at IS NULL AND last_error IS NOT NULL
		ORDER BY id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed records: %w", err)
	}
	return scanBufferRecords(rows)
}

// BufferRecordByID returns one buffer record.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) BufferRecordByID(ctx context.Context, id int64) (BufferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bufferColumns+` FROM sync_buffer WHERE id = ?`, id)
	if err != nil {
		return BufferRecord{}, fmt.Errorf("query buffer record %d: %w", id, err)
	}
	recs, err := scanBufferRecords(rows)
	if err != nil {
		return BufferRecord{}, err
	}
	if len(recs) == 0 {
		return BufferRecord{}, fmt.Errorf("buffer record %d: %w", id, sql.ErrNoRows)
	}
	return recs[0], nil
}

// AllBufferRecords returns every staged record in arrival order.
func (s *Store) AllBufferRecords(ctx context.Context) ([]BufferRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bufferColumns+` FROM sync_buffer ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query buffer: %w", err)
	}
	return scanBufferRecords(rows)
}

// BufferStats counts buffer records by status.
func (s *Store) BufferStats(ctx context.Context) (BufferStats, error) {
	var st BufferStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN integrated_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrated_at IS NULL AND quarantined = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrated_at IS NULL AND quarantined = 0 AND last_error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integrated_at IS NULL AND quarantined = 1 THEN 1 ELSE 0 END), 0)
		FROM sync_buffer
	`).Scan(&st.Total, &st.Integrated, &st.Pending, &st.Failing, &st.Quarantined)
	if err != nil {
		return BufferStats{}, fmt.Errorf("buffer stats: %w", err)
	}
	return st, nil
}

const bufferColumns = `id, source_site, table_name, record_id, action, payload, peer_sequence,
	received_at, integrated_at, last_error, attempts, quarantined`

func scanBufferRecords(rows *sql.Rows) ([]BufferRecord, error) {
	defer rows.Close()

	var out []BufferRecord
	for rows.Next() {
		var (
			r            BufferRecord
			action       string
			payload      string
			receivedAt   int64
			integratedAt sql.NullInt64
			lastError    sql.NullString
			quarantined  int
		)
		if err := rows.Scan(&r.ID, &r.SourceSite, &r.TableName, &r.RecordID, &action, &payload,
			&r.PeerSequence, &receivedAt, &integratedAt, &lastError, &r.Attempts, &quarantined); err != nil {
			return nil, fmt.Errorf("scan buffer record: %w", err)
		}
		r.Action = wire.Action(action)
		r.Payload = []byte(payload)
		r.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		r.IntegratedAt = millisPtr(integratedAt)
		r.LastError = lastError.String
		r.Quarantined = quarantined != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buffer records: %w", err)
	}
	return out, nil
}

func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}
