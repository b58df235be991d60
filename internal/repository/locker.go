package repository

import (
	"context"
	"time"
)

// Locker is an advisory lock over shared sync state. Multiple
// invocations can run concurrently (a timer firing while an operator
// clicks), so critical read-modify-write sequences take the lock
// first; a late-arriving concurrent trigger that cannot acquire it
// becomes a silent no-op instead of corrupting in-flight writes.
type Locker interface {
	// Acquire returns true when the named lock was taken. The lock
	// expires after ttl so a crashed holder cannot wedge the pipeline.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	// Release frees the named lock. Releasing a lock you do not hold
	// is a no-op.
	Release(ctx context.Context, name string) error
}

// SnapshotCache holds short-lived JSON snapshots for read-heavy status
// polling. Writers that change the underlying tables must invalidate.
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}
