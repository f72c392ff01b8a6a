package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/game"
	"github.com/ironstar-game/ironstar/locks"
	"github.com/ironstar-game/ironstar/store"
)

// UserCache owns the authoritative in-memory copy of every loaded user.
// All user mutation goes through it; a dirty set tracks users with pending
// writes and a background timer (or a synchronous flush in test mode)
// reconciles them to the store.
type UserCache struct {
	locks *locks.Manager
	store *store.Store
	clock TimeProvider
	log   zerolog.Logger

	syncFlush bool
	interval  time.Duration

	users  map[int64]*game.User
	byName map[string]int64
	dirty  map[int64]struct{}

	notify func(ctx context.Context, recipientID int64, text string)

	stop chan struct{}
	done chan struct{}
}

// NewUserCache builds an empty cache. Persistence timers start separately
// via StartPersistence.
func NewUserCache(m *locks.Manager, st *store.Store, clock TimeProvider, cfg Config, log zerolog.Logger) *UserCache {
	return &UserCache{
		locks:     m,
		store:     st,
		clock:     clock,
		log:       log.With().Str("cache", "users").Logger(),
		syncFlush: !cfg.AutoPersistence,
		interval:  cfg.PersistenceInterval,
		users:     make(map[int64]*game.User),
		byName:    make(map[string]int64),
		dirty:     make(map[int64]struct{}),
	}
}

// SetNotifier installs the hook used to announce build completions. The hook
// runs while USER is held, so it may only acquire higher levels.
func (c *UserCache) SetNotifier(fn func(ctx context.Context, recipientID int64, text string)) {
	c.notify = fn
}

// GetByID returns the cached user, hydrating from the store on a miss.
// Every read advances the user's time-derived stats first.
func (c *UserCache) GetByID(ctx context.Context, id int64) (*game.User, error) {
	var u *game.User
	err := withLock(ctx, c.locks, locks.User, func(ctx context.Context) error {
		var err error
		u, err = c.getLocked(ctx, id)
		return err
	})
	return u, err
}

// GetByUsername resolves through the secondary index, hydrating on a miss.
func (c *UserCache) GetByUsername(ctx context.Context, username string) (*game.User, error) {
	var u *game.User
	err := withLock(ctx, c.locks, locks.User, func(ctx context.Context) error {
		if id, ok := c.byName[username]; ok {
			var err error
			u, err = c.getLocked(ctx, id)
			return err
		}
		var loaded *game.User
		err := withReadLock(ctx, c.locks, locks.DBUsers, func(ctx context.Context) error {
			var err error
			loaded, err = c.store.GetUserByUsername(ctx, username)
			return err
		})
		if err != nil {
			return err
		}
		c.users[loaded.ID] = loaded
		c.byName[loaded.Username] = loaded.ID
		u = loaded
		return c.touchLocked(ctx, u)
	})
	return u, err
}

func (c *UserCache) getLocked(ctx context.Context, id int64) (*game.User, error) {
	u, ok := c.users[id]
	if !ok {
		err := withReadLock(ctx, c.locks, locks.DBUsers, func(ctx context.Context) error {
			var err error
			u, err = c.store.GetUser(ctx, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		c.users[id] = u
		c.byName[u.Username] = u.ID
	}
	if err := c.touchLocked(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// touchLocked applies stat accrual and announces finished build items.
func (c *UserCache) touchLocked(ctx context.Context, u *game.User) error {
	completed := game.UpdateStats(u, c.clock.Now().Unix())
	c.dirty[u.ID] = struct{}{}
	if c.notify != nil {
		for _, item := range completed {
			c.notify(ctx, u.ID, fmt.Sprintf("P: Construction complete: %s is ready.", item.ItemKey))
		}
	}
	return c.maybeFlushLocked(ctx)
}

// SetUser installs a user that was just written to the store directly, so
// the cache copy is clean.
func (c *UserCache) SetUser(ctx context.Context, u *game.User) error {
	return withLock(ctx, c.locks, locks.User, func(ctx context.Context) error {
		c.users[u.ID] = u
		c.byName[u.Username] = u.ID
		delete(c.dirty, u.ID)
		return nil
	})
}

// UpdateUser installs a user and marks it dirty.
func (c *UserCache) UpdateUser(ctx context.Context, u *game.User) error {
	return withLock(ctx, c.locks, locks.User, func(ctx context.Context) error {
		c.users[u.ID] = u
		c.byName[u.Username] = u.ID
		c.dirty[u.ID] = struct{}{}
		return c.maybeFlushLocked(ctx)
	})
}

// Apply hydrates the user, runs fn against the live copy under USER, and
// marks it dirty. This is the mutation path for everything outside the
// cache: battle state, damage, XP awards.
func (c *UserCache) Apply(ctx context.Context, id int64, fn func(u *game.User) error) error {
	return withLock(ctx, c.locks, locks.User, func(ctx context.Context) error {
		u, err := c.getLocked(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		c.dirty[u.ID] = struct{}{}
		return c.maybeFlushLocked(ctx)
	})
}

// MarkDirty flags a cached user whose fields were mutated directly by a
// caller holding USER (the scheduler's turn loop).
func (c *UserCache) MarkDirty(ctx context.Context, id int64) error {
	return withLock(ctx, c.locks, locks.User, func(ctx context.Context) error {
		if _, ok := c.users[id]; !ok {
			return fmt.Errorf("user %d not cached: %w", id, game.ErrNotFound)
		}
		c.dirty[id] = struct{}{}
		return c.maybeFlushLocked(ctx)
	})
}

// AwardXP grants XP and announces a level-up.
func (c *UserCache) AwardXP(ctx context.Context, id int64, amount int64) (game.LevelChange, error) {
	var change game.LevelChange
	err := c.Apply(ctx, id, func(u *game.User) error {
		change = game.AddXP(u, amount)
		if change.NewLevel > change.OldLevel && c.notify != nil {
			c.notify(ctx, id, fmt.Sprintf("P: You reached level %d!", change.NewLevel))
		}
		return nil
	})
	return change, err
}

func (c *UserCache) maybeFlushLocked(ctx context.Context) error {
	if !c.syncFlush {
		return nil
	}
	return c.flushLocked(ctx)
}

// FlushDirty writes every dirty user back to the store.
func (c *UserCache) FlushDirty(ctx context.Context) error {
	return withLock(ctx, c.locks, locks.User, c.flushLocked)
}

func (c *UserCache) flushLocked(ctx context.Context) error {
	if len(c.dirty) == 0 {
		return nil
	}
	return withLock(ctx, c.locks, locks.DBUsers, func(ctx context.Context) error {
		flushed := 0
		for id := range c.dirty {
			if err := c.store.UpdateUser(ctx, c.users[id]); err != nil {
				c.log.Error().Err(err).Int64("user", id).Msg("flush failed")
				return err
			}
			delete(c.dirty, id)
			flushed++
		}
		c.log.Debug().Int("count", flushed).Msg("flushed users")
		return nil
	})
}

// StartPersistence launches the periodic write-back timer.
func (c *UserCache) StartPersistence() {
	if c.interval <= 0 || c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.FlushDirty(context.Background()); err != nil {
					c.log.Error().Err(err).Msg("periodic flush failed")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the timer and performs a final flush.
func (c *UserCache) Close(ctx context.Context) error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
	return c.FlushDirty(ctx)
}

// Stats reports cache occupancy for the stats log.
func (c *UserCache) Stats(ctx context.Context) (cached, dirty int) {
	withLock(ctx, c.locks, locks.User, func(context.Context) error {
		cached, dirty = len(c.users), len(c.dirty)
		return nil
	})
	return cached, dirty
}
