package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverLocker prefers Redis so the lock is shared across processes,
// but degrades to the in-process locker when Redis is down rather than
// blocking the whole pipeline. Single-process deployments lose nothing
// in the degraded mode.
type FailoverLocker struct {
	primary   Locker
	fallback  Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLocker(primary, fallback Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if !l.isDown.Load() {
		ok, err := l.primary.Acquire(ctx, name, ttl)
		if err == nil {
			return ok, nil
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
		l.isDown.Store(true)
		l.lastCheck.Store(time.Now().UnixNano())
	}

	// Probe the primary again after a minute.
	if l.isDown.Load() && time.Since(time.Unix(0, l.lastCheck.Load())) > time.Minute {
		ok, err := l.primary.Acquire(ctx, name, ttl)
		if err == nil {
			l.isDown.Store(false)
			return ok, nil
		}
		l.lastCheck.Store(time.Now().UnixNano())
	}

	return l.fallback.Acquire(ctx, name, ttl)
}

func (l *FailoverLocker) Release(ctx context.Context, name string) error {
	if !l.isDown.Load() {
		err := l.primary.Release(ctx, name)
		if err == nil {
			return nil
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
		l.isDown.Store(true)
		l.lastCheck.Store(time.Now().UnixNano())
	}

	return l.fallback.Release(ctx, name)
}
