package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireLease takes the site's session lease for holder until now+ttl.
// It succeeds when no lease exists, the existing lease has expired, or
// holder already owns it (which renews it).
func (s *Store) AcquireLease(ctx context.Context, siteID, holder string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO session_lease (site_id, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE session_lease.holder = excluded.holder OR session_lease.expires_at <= ?
	`, siteID, holder, now.Add(ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", siteID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", siteID, err)
	}
	return n > 0, nil
}

// ReleaseLease drops the lease if holder owns it.
func (s *Store) ReleaseLease(ctx context.Context, siteID, holder string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM session_lease WHERE site_id = ? AND holder = ?
	`, siteID, holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", siteID, err)
	}
	return nil
}

// LeaseHolder returns the current unexpired holder, or "" if none.
func (s *Store) LeaseHolder(ctx context.Context, siteID string) (string, error) {
	var (
		holder  string
		expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT holder, expires_at FROM session_lease WHERE site_id = ?
	`, siteID).Scan(&holder, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease holder %s: %w", siteID, err)
	}
	if expires <= s.nowMillis() {
		return "", nil
	}
	return holder, nil
}
