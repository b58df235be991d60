package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "sync_run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "sync_run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock rejects a second acquire")

	require.NoError(t, l.Release(ctx, "sync_run"))

	ok, err = l.Acquire(ctx, "sync_run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_ExpiredLockCanBeReacquired(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "sync_run", time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = l.Acquire(ctx, "sync_run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_IndependentNames(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemorySnapshotCache(t *testing.T) {
	c := NewMemorySnapshotCache()
	ctx := context.Background()

	_, found, err := c.Get(ctx, "status")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "status", []byte(`{"stage":"IDLE"}`), time.Minute))

	val, found, err := c.Get(ctx, "status")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"stage":"IDLE"}`, string(val))

	require.NoError(t, c.Invalidate(ctx, "status"))
	_, found, err = c.Get(ctx, "status")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySnapshotCache_TTLExpiry(t *testing.T) {
	c := NewMemorySnapshotCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "status", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, found, err := c.Get(ctx, "status")
	require.NoError(t, err)
	assert.False(t, found)
}
