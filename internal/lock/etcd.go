package lock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLocker implements Locker on etcd mutexes. Each held lock owns its own
// session; the lock is lost when the session's lease cannot be kept alive.
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
	ttl    time.Duration
}

// NewEtcdLocker creates an etcd locker storing lock keys under prefix.
// ttl is rounded down to whole seconds, minimum one.
func NewEtcdLocker(client *clientv3.Client, prefix string, ttl time.Duration) *EtcdLocker {
	return &EtcdLocker{client: client, prefix: prefix, ttl: ttl}
}

// Acquire tries the mutex once. Contention maps to ErrLockHeld.
func (l *EtcdLocker) Acquire(ctx context.Context, name string) (Lock, error) {
	ttl := int(l.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	// The session outlives ctx; it is closed by Unlock.
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("acquire %q: session: %w", name, err)
	}

	mu := concurrency.NewMutex(session, path.Join("/", l.prefix, "locks", name))
	if err := mu.TryLock(ctx); err != nil {
		session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, fmt.Errorf("acquire %q: %w", name, ErrLockHeld)
		}
		return nil, fmt.Errorf("acquire %q: %w", name, err)
	}

	return &etcdLock{name: name, session: session, mu: mu}, nil
}

type etcdLock struct {
	name    string
	session *concurrency.Session
	mu      *concurrency.Mutex
}

// Refresh only checks the session; the client keeps the lease alive.
func (h *etcdLock) Refresh(ctx context.Context) error {
	select {
	case <-h.session.Done():
		return fmt.Errorf("refresh %q: %w", h.name, ErrLockLost)
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (h *etcdLock) Unlock(ctx context.Context) error {
	var unlockErr error
	select {
	case <-h.session.Done():
	default:
		unlockErr = h.mu.Unlock(ctx)
	}
	return errors.Join(unlockErr, h.session.Close())
}
