// Package lock provides the named mutual-exclusion locks used to elect the
// single active stream consumer.
//
// Acquire never waits: a contended lock fails immediately with ErrLockHeld and
// the caller retries on its own schedule. Holders call Refresh periodically;
// a Refresh error means the lock may already belong to someone else.
package lock

import (
	"context"
	"errors"
)

var (
	// ErrLockHeld is returned by Acquire when another owner holds the lock.
	ErrLockHeld = errors.New("lock held elsewhere")

	// ErrLockLost is returned by Refresh when the lock expired or was taken over.
	ErrLockLost = errors.New("lock lost")
)

// Lock is a held lock.
type Lock interface {
	// Refresh extends the hold. Must be called more often than the TTL.
	Refresh(ctx context.Context) error

	// Unlock releases the lock. Safe to call after the lock was lost.
	Unlock(ctx context.Context) error
}

// Locker acquires named locks without retrying.
type Locker interface {
	Acquire(ctx context.Context, name string) (Lock, error)
}
