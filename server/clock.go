package server

import (
	"context"
	"time"

	"github.com/ironstar-game/ironstar/locks"
)

// TimeProvider abstracts the clock so scheduler and cache tests can drive
// time deterministically.
type TimeProvider interface {
	Now() time.Time
}

// SystemTime is the production TimeProvider.
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now() }

// withLock runs fn with the given level held exclusively. A caller that
// already holds the level runs fn in place, so cache operations compose
// inside a larger critical section without reentrant acquisition.
func withLock(ctx context.Context, m *locks.Manager, level locks.Level, fn func(ctx context.Context) error) error {
	if locks.Holds(ctx, level) {
		return fn(ctx)
	}
	lctx, release, err := m.Acquire(ctx, level)
	if err != nil {
		return err
	}
	defer release()
	return fn(lctx)
}

// withReadLock is withLock for a shared slot, used at the DB_* levels for
// store reads.
func withReadLock(ctx context.Context, m *locks.Manager, level locks.Level, fn func(ctx context.Context) error) error {
	if locks.Holds(ctx, level) {
		return fn(ctx)
	}
	lctx, release, err := m.AcquireShared(ctx, level)
	if err != nil {
		return err
	}
	defer release()
	return fn(lctx)
}
