package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
)

// Locker guards a job so that one runner executes it at a time.
type Locker interface {
	// TryLock returns a release func and true when the lock was acquired.
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error)
}

const lockPrefix = "membership:job:"

// RedisLocker takes a redsync mutex per job, shared by every instance that
// points at the same Redis.
type RedisLocker struct {
	rs *redsync.Redsync
}

func NewRedisLocker(rs *redsync.Redsync) *RedisLocker {
	return &RedisLocker{rs: rs}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	mutex := l.rs.NewMutex(lockPrefix+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		_, _ = mutex.UnlockContext(context.Background())
	}, true, nil
}

// LocalLocker serializes jobs inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}, true, nil
}
