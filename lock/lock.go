// Package lock provides the per-dated-trip distributed locking the
// merger needs to serialise concurrent feeds touching the same trip.
// A lock is acquired for a scoped handle that
// guarantees release on every exit path, including panic.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyHeld is returned by Acquire when another worker already
// holds the lock; the caller should skip the candidate for this round
// and let the feed be retried later rather than blocking.
var ErrAlreadyHeld = errors.New("lock: already held")

// Locker is the distributed per-trip lock abstraction. Implementations
// must guarantee that Release is idempotent and safe to call even if
// Acquire failed.
type Locker interface {
	// Acquire takes the named lock, returning ErrAlreadyHeld if some
	// other holder already owns it. The lock force-expires after ttl
	// if never released (worker death).
	Acquire(ctx context.Context, name string, ttl time.Duration) (Handle, error)
}

// Handle is a scoped lock ownership token; Release must be safe to call
// more than once and from a deferred call after a panic.
type Handle interface {
	Release(ctx context.Context) error
}

// Name builds the lock-service key:
// "<prefix>|<fn>|<contributor>|<nav_trip_id>|<start_ts>".
func Name(prefix, fn, contributor, navitiaTripID, startTimestamp string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", prefix, fn, contributor, navitiaTripID, startTimestamp)
}

// WithLock acquires name, runs fn, and releases the lock on every exit
// path, including a panic unwinding through fn.
func WithLock(ctx context.Context, locker Locker, name string, ttl time.Duration, fn func() error) error {
	handle, err := locker.Acquire(ctx, name, ttl)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	return fn()
}
