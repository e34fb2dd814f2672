package lock_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/playbookd/internal/lock"
	"github.com/roach88/playbookd/internal/store"
	"github.com/roach88/playbookd/internal/testutil"
)

func setupLeaseStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLeaseLocker_SecondOwnerGetsErrLockHeld(t *testing.T) {
	s := setupLeaseStore(t)
	clock := testutil.NewFakeClock(testutil.Epoch, 0)
	ctx := context.Background()

	a := lock.NewLeaseLocker(s, "a", 10*time.Second, lock.WithClock(clock.Now))
	b := lock.NewLeaseLocker(s, "b", 10*time.Second, lock.WithClock(clock.Now))

	held, err := a.Acquire(ctx, "consumer")
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "consumer")
	assert.ErrorIs(t, err, lock.ErrLockHeld)

	// Different names do not contend
	_, err = b.Acquire(ctx, "other")
	assert.NoError(t, err)

	require.NoError(t, held.Unlock(ctx))
	_, err = b.Acquire(ctx, "consumer")
	assert.NoError(t, err)
}

func TestLeaseLocker_ExpiredLeaseCanBeTaken(t *testing.T) {
	s := setupLeaseStore(t)
	clock := testutil.NewFakeClock(testutil.Epoch, 0)
	ctx := context.Background()

	a := lock.NewLeaseLocker(s, "a", 10*time.Second, lock.WithClock(clock.Now))
	b := lock.NewLeaseLocker(s, "b", 10*time.Second, lock.WithClock(clock.Now))

	held, err := a.Acquire(ctx, "consumer")
	require.NoError(t, err)

	clock.Advance(11 * time.Second)

	_, err = b.Acquire(ctx, "consumer")
	require.NoError(t, err)

	// The previous holder notices on refresh
	err = held.Refresh(ctx)
	assert.ErrorIs(t, err, lock.ErrLockLost)

	// Unlocking a lost lease must not release the new owner's lease
	require.NoError(t, held.Unlock(ctx))
	_, err = a.Acquire(ctx, "consumer")
	assert.ErrorIs(t, err, lock.ErrLockHeld)
}

func TestLeaseLocker_RefreshExtendsLease(t *testing.T) {
	s := setupLeaseStore(t)
	clock := testutil.NewFakeClock(testutil.Epoch, 0)
	ctx := context.Background()

	a := lock.NewLeaseLocker(s, "a", 10*time.Second, lock.WithClock(clock.Now))
	b := lock.NewLeaseLocker(s, "b", 10*time.Second, lock.WithClock(clock.Now))

	held, err := a.Acquire(ctx, "consumer")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Advance(6 * time.Second)
		require.NoError(t, held.Refresh(ctx))
	}

	_, err = b.Acquire(ctx, "consumer")
	assert.ErrorIs(t, err, lock.ErrLockHeld)
}

func TestLeaseLocker_GeneratesOwner(t *testing.T) {
	s := setupLeaseStore(t)
	a := lock.NewLeaseLocker(s, "", time.Second)
	b := lock.NewLeaseLocker(s, "", time.Second)

	assert.NotEmpty(t, a.Owner())
	assert.NotEqual(t, a.Owner(), b.Owner())
}
