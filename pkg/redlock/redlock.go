// Package redlock is a thin Redis Redlock layer over redsync: acquire,
// release, done. It exists so the components that single-flight scaling
// executions share one lock implementation instead of each talking to
// redsync directly.
package redlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	goredislib "github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired is returned by TryLock when the lock is held
	// elsewhere.
	ErrNotAcquired = errors.New("redlock: lock not acquired")

	// ErrNilClient is returned when New receives no usable client.
	ErrNilClient = errors.New("redlock: nil redis client")

	// ErrClosed is returned by TryLock after Close.
	ErrClosed = errors.New("redlock: factory closed")
)

// Handle is one successful acquisition. Unlock is idempotent from the
// caller's perspective: releasing an already-expired lock is not an
// error worth surfacing.
type Handle interface {
	Unlock(ctx context.Context) error
	Key() string
}

// Locker is the narrow capability injected into components that guard a
// critical section; *Factory implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Handle, error)
}

// Factory creates locks against one or more Redis endpoints (a single
// client gives plain SET NX semantics; several give quorum Redlock).
type Factory struct {
	rs *redsync.Redsync

	mu     sync.Mutex
	closed bool
}

// New builds a Factory over the given clients.
func New(clients ...goredislib.UniversalClient) (*Factory, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]redsyncredis.Pool, 0, len(clients))
	for _, c := range clients {
		if c == nil {
			return nil, ErrNilClient
		}
		pools = append(pools, goredis.NewPool(c))
	}
	return &Factory{rs: redsync.New(pools...)}, nil
}

// TryLock makes a single acquisition attempt and returns ErrNotAcquired
// if the key is already held.
func (f *Factory) TryLock(ctx context.Context, key string, ttl time.Duration) (Handle, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	mutex := f.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
		redsync.WithGenValueFunc(func() (string, error) { return uuid.NewString(), nil }),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, ErrNotAcquired
		}
		return nil, err
	}
	return &handle{mutex: mutex}, nil
}

// Close marks the factory unusable. It does not close the underlying
// Redis clients, which the caller owns.
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type handle struct {
	mutex *redsync.Mutex
}

func (h *handle) Unlock(ctx context.Context) error {
	if _, err := h.mutex.UnlockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) {
			return nil
		}
		return err
	}
	return nil
}

func (h *handle) Key() string { return h.mutex.Name() }
