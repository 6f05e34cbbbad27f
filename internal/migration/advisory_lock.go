package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

var ErrMigrationLocked = errors.New("migration_locked")

const lockPollInterval = 500 * time.Millisecond

// advisoryLockKey is stable per application so separate services sharing a
// postgres cluster do not block each other.
func advisoryLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("membership:migrate:" + name))
	return int64(h.Sum64() >> 1)
}

// sessionLock holds a postgres session advisory lock on one pinned
// connection. Lock and unlock must run on the same session.
type sessionLock struct {
	conn *sql.Conn
	key  int64
}

// acquireAdvisoryLock polls pg_try_advisory_lock until it succeeds or ctx is
// done, so a second instance waits for the first migration instead of racing it.
func acquireAdvisoryLock(ctx context.Context, db *sql.DB, name string) (*sessionLock, error) {
	if db == nil {
		return nil, errors.New("advisory lock requires database handle")
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin connection: %w", err)
	}

	key := advisoryLockKey(name)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("acquire advisory lock: %w", err)
		}
		if locked {
			return &sessionLock{conn: conn, key: key}, nil
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrMigrationLocked, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *sessionLock) release(ctx context.Context) error {
	defer l.conn.Close()
	var released bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released); err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	if !released {
		return errors.New("advisory lock was not held by this session")
	}
	return nil
}
