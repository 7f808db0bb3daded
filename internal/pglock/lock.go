package pglock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	defaultTimeout = 5 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// Lock is a named Postgres advisory lock. Advisory locks are session-scoped,
// so the lock pins one connection from the pool for its whole hold time and
// releases on that same connection.
type Lock struct {
	db      *sql.DB
	name    string
	key     int64
	timeout time.Duration

	mu   sync.Mutex
	conn *sql.Conn
}

// New constructs an advisory lock for the given name.
func New(db *sql.DB, name string, timeout time.Duration) (*Lock, error) {
	if db == nil {
		return nil, errors.New("sql db required for advisory lock")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Lock{
		db:      db,
		name:    name,
		key:     keyFor(name),
		timeout: timeout,
	}, nil
}

// keyFor hashes the lock name into the bigint key space pg_advisory_lock
// expects. FNV-64a keeps the key stable across processes and releases.
func keyFor(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// Key exposes the derived lock key, mainly for diagnostics.
func (l *Lock) Key() int64 { return l.key }

// Acquire tries to take the lock, polling until the configured timeout.
// A false return means another process holds the lock; that is the expected
// outcome of overlapping triggers, not an error.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return false, errors.New("lock already held by this instance")
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("pin lock connection: %w", err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		var acquired bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
			_ = conn.Close()
			return false, fmt.Errorf("try advisory lock %q: %w", l.name, err)
		}
		if acquired {
			l.conn = conn
			return true, nil
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			return false, nil
		}

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release frees the lock on the pinned connection and returns it to the pool.
// Releasing an unheld lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	var released bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released)
	if err == nil && !released {
		err = fmt.Errorf("advisory lock %q was not held by this session", l.name)
	}
	return multierr.Append(err, conn.Close())
}
