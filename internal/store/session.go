package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionState is a sync session's position in its state machine:
// Created -> Pulling -> Integrating -> Pushing -> Finished, with Failed
// reachable from any non-terminal state.
type SessionState string

const (
	StateCreated     SessionState = "CREATED"
	StatePulling     SessionState = "PULLING"
	StateIntegrating SessionState = "INTEGRATING"
	StatePushing     SessionState = "PUSHING"
	StateFinished    SessionState = "FINISHED"
	StateFailed      SessionState = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s SessionState) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// ErrSessionFinished is returned when saving a session whose stored row is
// already finished. Finished rows are immutable.
var ErrSessionFinished = errors.New("session already finished")

// Phase is the timing and progress of one session phase.
type Phase struct {
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int64      `json:"total"`
	Done       int64      `json:"done"`
	Failed     int64      `json:"failed"`
}

// Remaining is Total minus Done and Failed, never negative.
func (p Phase) Remaining() int64 {
	return max(p.Total-p.Done-p.Failed, 0)
}

// SyncSession is the persisted log of one sync run.
type SyncSession struct {
	ID          string       `json:"id"`
	SiteID      string       `json:"site_id"`
	Role        string       `json:"role"`
	State       SessionState `json:"state"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Pull        Phase        `json:"pull"`
	Integration Phase        `json:"integration"`
	Push        Phase        `json:"push"`
	Error       string       `json:"error,omitempty"`
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess SyncSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (id, site_id, role, state, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, sess.SiteID, sess.Role, string(sess.State), sess.StartedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return s.SaveSession(ctx, sess)
}

// SaveSession writes every mutable field of a session. A row that is
// already finished is left untouched and ErrSessionFinished is returned.
func (s *Store) SaveSession(ctx context.Context, sess SyncSession) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_sessions SET
			state = ?, finished_at = ?,
			pull_started_at = ?, pull_finished_at = ?, pull_total = ?, pull_done = ?, pull_failed = ?,
			integration_started_at = ?, integration_finished_at = ?,
			integration_total = ?, integration_done = ?, integration_failed = ?,
			push_started_at = ?, push_finished_at = ?, push_total = ?, push_done = ?, push_failed = ?,
			error = ?
		WHERE id = ? AND finished_at IS NULL
	`,
		string(sess.State), nullMillis(sess.FinishedAt),
		nullMillis(sess.Pull.StartedAt), nullMillis(sess.Pull.FinishedAt), sess.Pull.Total, sess.Pull.Done, sess.Pull.Failed,
		nullMillis(sess.Integration.StartedAt), nullMillis(sess.Integration.FinishedAt),
		sess.Integration.Total, sess.Integration.Done, sess.Integration.Failed,
		nullMillis(sess.Push.StartedAt), nullMillis(sess.Push.FinishedAt), sess.Push.Total, sess.Push.Done, sess.Push.Failed,
		nullString(sess.Error),
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, sess.ID); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return fmt.Errorf("save session %s: %w", sess.ID, ErrSessionFinished)
	}
	return nil
}

// GetSession returns a session by id.
// Returns an error wrapping sql.ErrNoRows if not found.
func (s *Store) GetSession(ctx context.Context, id string) (SyncSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sync_sessions WHERE id = ?`, id)
	if err != nil {
		return SyncSession{}, fmt.Errorf("get session %s: %w", id, err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return SyncSession{}, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(sessions) == 0 {
		return SyncSession{}, fmt.Errorf("get session %s: %w", id, sql.ErrNoRows)
	}
	return sessions[0], nil
}

// LatestSession returns the most recently started session of a site.
// Returns an error wrapping sql.ErrNoRows if the site has none.
func (s *Store) LatestSession(ctx context.Context, siteID string) (SyncSession, error) {
	sessions, err := s.ListSessions(ctx, siteID, 1)
	if err != nil {
		return SyncSession{}, err
	}
	if len(sessions) == 0 {
		return SyncSession{}, fmt.Errorf("latest session for %s: %w", siteID, sql.ErrNoRows)
	}
	return sessions[0], nil
}

// ListSessions returns a site's sessions, newest first. limit <= 0 means all.
func (s *Store) ListSessions(ctx context.Context, siteID string, limit int) ([]SyncSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sync_sessions WHERE site_id = ? ORDER BY started_at DESC, rowid DESC`
	args := []any{siteID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FailInterruptedSessions marks sessions a crash left unfinished as Failed.
// Their checkpoints are durable, so the next session resumes from them.
func (s *Store) FailInterruptedSessions(ctx context.Context, siteID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_sessions SET state = ?, finished_at = ?, error = ?
		WHERE site_id = ? AND finished_at IS NULL
	`, string(StateFailed), s.nowMillis(), reason, siteID)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail interrupted sessions: %w", err)
	}
	return n, nil
}

const sessionColumns = `id, site_id, role, state, started_at, finished_at,
	pull_started_at, pull_finished_at, pull_total, pull_done, pull_failed,
	integration_started_at, integration_finished_at, integration_total, integration_done, integration_failed,
	push_started_at, push_finished_at, push_total, push_done, push_failed,
	error`

func scanSessions(rows *sql.Rows) ([]SyncSession, error) {
	defer rows.Close()

	var out []SyncSession
	for rows.Next() {
		var (
			sess                    SyncSession
			state                   string
			startedAt               int64
			finishedAt              sql.NullInt64
			pullStart, pullFinish   sql.NullInt64
			integStart, integFinish sql.NullInt64
			pushStart, pushFinish   sql.NullInt64
			errMsg                  sql.NullString
		)
		if err := rows.Scan(
			&sess.ID, &sess.SiteID, &sess.Role, &state, &startedAt, &finishedAt,
			&pullStart, &pullFinish, &sess.Pull.Total, &sess.Pull.Done, &sess.Pull.Failed,
			&integStart, &integFinish, &sess.Integration.Total, &sess.Integration.Done, &sess.Integration.Failed,
			&pushStart, &pushFinish, &sess.Push.Total, &sess.Push.Done, &sess.Push.Failed,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.State = SessionState(state)
		sess.StartedAt = time.UnixMilli(startedAt).UTC()
		sess.FinishedAt = millisPtr(finishedAt)
		sess.Pull.StartedAt, sess.Pull.FinishedAt = millisPtr(pullStart), millisPtr(pullFinish)
		sess.Integration.StartedAt, sess.Integration.FinishedAt = millisPtr(integStart), millisPtr(integFinish)
		sess.Push.StartedAt, sess.Push.FinishedAt = millisPtr(pushStart), millisPtr(pushFinish)
		sess.Error = errMsg.String
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
