package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeaseStore persists lease rows. Implemented by store.Store.
type LeaseStore interface {
	TryAcquireLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)
	RenewLease(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

// LeaseLocker implements Locker with expiring lease rows in the shared
// database. A crashed holder's lease lapses after ttl.
type LeaseLocker struct {
	store LeaseStore
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// LeaseOption configures a LeaseLocker.
type LeaseOption func(*LeaseLocker)

// WithClock sets the time source used to compute expiry.
func WithClock(now func() time.Time) LeaseOption {
	return func(l *LeaseLocker) {
		l.now = now
	}
}

// NewLeaseLocker creates a lease locker. An empty owner gets a random UUID,
// which is what separate processes sharing one database need.
func NewLeaseLocker(store LeaseStore, owner string, ttl time.Duration, opts ...LeaseOption) *LeaseLocker {
	if owner == "" {
		owner = uuid.NewString()
	}
	l := &LeaseLocker{store: store, owner: owner, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Owner returns the identity written into lease rows.
func (l *LeaseLocker) Owner() string {
	return l.owner
}

// Acquire takes the named lease or fails with ErrLockHeld.
func (l *LeaseLocker) Acquire(ctx context.Context, name string) (Lock, error) {
	ok, err := l.store.TryAcquireLease(ctx, name, l.owner, l.ttl, l.now())
	if err != nil {
		return nil, fmt.Errorf("acquire %q: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %q: %w", name, ErrLockHeld)
	}
	return &leaseLock{locker: l, name: name}, nil
}

type leaseLock struct {
	locker *LeaseLocker
	name   string
}

func (h *leaseLock) Refresh(ctx context.Context) error {
	l := h.locker
	ok, err := l.store.RenewLease(ctx, h.name, l.owner, l.ttl, l.now())
	if err != nil {
		return fmt.Errorf("refresh %q: %w", h.name, err)
	}
	if !ok {
		return fmt.Errorf("refresh %q: %w", h.name, ErrLockLost)
	}
	return nil
}

func (h *leaseLock) Unlock(ctx context.Context) error {
	return h.locker.store.ReleaseLease(ctx, h.name, h.locker.owner)
}
