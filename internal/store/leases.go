package store

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireLease takes the named lease for owner until now+ttl.
//
// The lease is granted when it is free, expired, or already held by owner
// (which extends it). Returns false when another owner holds a live lease.
func (s *Store) TryAcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= ?
	`, name, owner, toNanos(now.Add(ttl)), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return n > 0, nil
}

// RenewLease extends a lease owner still holds. Returns false when the lease
// has expired or moved to another owner.
func (s *Store) RenewLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases SET expires_at = ?
		WHERE name = ? AND owner = ? AND expires_at > ?
	`, toNanos(now.Add(ttl)), name, owner, toNanos(now))
	if err != nil {
		return false, fmt.Errorf("renew lease %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lease %q: %w", name, err)
	}
	return n > 0, nil
}

// ReleaseLease drops the lease if owner holds it. Releasing a lease held by
// someone else is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner)
	if err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}
