// Package locks provides the hierarchical named locks that order every
// critical section in the server. Locks carry fixed numeric levels and must
// be acquired in strictly ascending order; the set of levels a task holds
// rides on its context, so an out-of-order acquisition is detected at
// runtime instead of deadlocking.
package locks

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/ironstar-game/ironstar/game"
)

// Level identifies one lock in the hierarchy. Lower levels must be taken
// first.
type Level int

const (
	// Cache levels. All cache locks are exclusive.
	Battle  Level = 2
	User    Level = 4
	World   Level = 6
	Message Level = 7

	// Per-table write coordination for the persistent store. These support
	// shared acquisition for concurrent readers.
	DBUsers    Level = 10
	DBWorld    Level = 11
	DBMessages Level = 12
	DBBattles  Level = 13
)

func (l Level) String() string {
	switch l {
	case Battle:
		return "BATTLE"
	case User:
		return "USER"
	case World:
		return "WORLD"
	case Message:
		return "MESSAGE"
	case DBUsers:
		return "DB_USERS"
	case DBWorld:
		return "DB_WORLD"
	case DBMessages:
		return "DB_MESSAGES"
	case DBBattles:
		return "DB_BATTLES"
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// Levels lists every lock in ascending order.
var Levels = []Level{Battle, User, World, Message, DBUsers, DBWorld, DBMessages, DBBattles}

// sharedSlots bounds concurrent shared holders of one lock. An exclusive
// acquisition takes every slot.
const sharedSlots = 64

// Manager owns one weighted semaphore per level. Weighted semaphores give
// context-cancellable acquisition, which sync.Mutex and sync.RWMutex do
// not.
type Manager struct {
	sems map[Level]*semaphore.Weighted
}

// NewManager builds a manager covering every level.
func NewManager() *Manager {
	m := &Manager{sems: make(map[Level]*semaphore.Weighted, len(Levels))}
	for _, l := range Levels {
		m.sems[l] = semaphore.NewWeighted(sharedSlots)
	}
	return m
}

type ctxKey struct{}

// held is an immutable linked list of the levels a task holds, threaded
// through its context.
type held struct {
	parent *held
	level  Level
}

func heldFrom(ctx context.Context) *held {
	h, _ := ctx.Value(ctxKey{}).(*held)
	return h
}

// Holds reports whether the context already holds the given level.
func Holds(ctx context.Context, level Level) bool {
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if h.level == level {
			return true
		}
	}
	return false
}

// Highest returns the highest level held by the context, or false if none.
func Highest(ctx context.Context) (Level, bool) {
	var top Level
	found := false
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if !found || h.level > top {
			top = h.level
			found = true
		}
	}
	return top, found
}

func (m *Manager) check(ctx context.Context, level Level) error {
	if Holds(ctx, level) {
		return fmt.Errorf("lock %s already held: %w", level, game.ErrReentrant)
	}
	if top, ok := Highest(ctx); ok && top >= level {
		return fmt.Errorf("cannot acquire %s while holding %s: %w", level, top, game.ErrLockOrder)
	}
	return nil
}

func (m *Manager) acquire(ctx context.Context, level Level, weight int64) (context.Context, func(), error) {
	if err := m.check(ctx, level); err != nil {
		return ctx, nil, err
	}
	sem := m.sems[level]
	if sem == nil {
		return ctx, nil, fmt.Errorf("unknown lock level %d: %w", int(level), game.ErrNotFound)
	}
	if err := sem.Acquire(ctx, weight); err != nil {
		return ctx, nil, fmt.Errorf("waiting for %s: %w", level, game.ErrCancelled)
	}
	locked := context.WithValue(ctx, ctxKey{}, &held{parent: heldFrom(ctx), level: level})
	release := func() { sem.Release(weight) }
	return locked, release, nil
}

// Acquire takes the exclusive lock at the given level. It returns a derived
// context that records the holding — pass that context to any nested
// acquisition — and a release function. The derived context is only valid
// while the lock is held; resume from the original context after release.
func (m *Manager) Acquire(ctx context.Context, level Level) (context.Context, func(), error) {
	return m.acquire(ctx, level, sharedSlots)
}

// AcquireShared takes a shared (read) slot at the given level. Ordering
// rules are identical to Acquire.
func (m *Manager) AcquireShared(ctx context.Context, level Level) (context.Context, func(), error) {
	return m.acquire(ctx, level, 1)
}
