package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/game"
	"github.com/ironstar-game/ironstar/locks"
	"github.com/ironstar-game/ironstar/store"
)

// BattleCache is the only writer of battle rows. It keeps active battles in
// memory with a per-user index; ended battles live only in the store.
type BattleCache struct {
	locks *locks.Manager
	store *store.Store
	clock TimeProvider
	log   zerolog.Logger
	users *UserCache
	world *WorldCache

	syncFlush bool
	interval  time.Duration

	battles map[int64]*game.Battle
	byUser  map[int64]int64
	dirty   map[int64]struct{}

	stop chan struct{}
	done chan struct{}
}

// NewBattleCache builds the cache.
func NewBattleCache(m *locks.Manager, st *store.Store, clock TimeProvider, cfg Config, log zerolog.Logger, users *UserCache, world *WorldCache) *BattleCache {
	return &BattleCache{
		locks:     m,
		store:     st,
		clock:     clock,
		log:       log.With().Str("cache", "battles").Logger(),
		users:     users,
		world:     world,
		syncFlush: !cfg.AutoPersistence,
		interval:  cfg.PersistenceInterval,
		battles:   make(map[int64]*game.Battle),
		byUser:    make(map[int64]int64),
		dirty:     make(map[int64]struct{}),
	}
}

// Create opens a battle between two users: snapshots their current stats,
// seeds every owned weapon ready to fire, persists the row, marks both
// users as fighting and pins their ships. Rejects with ErrConflict when
// either participant already has an active battle.
func (c *BattleCache) Create(ctx context.Context, attackerID, attackeeID int64) (*game.Battle, error) {
	if attackerID == attackeeID {
		return nil, fmt.Errorf("cannot attack yourself: %w", game.ErrConflict)
	}
	var b *game.Battle
	err := withLock(ctx, c.locks, locks.Battle, func(ctx context.Context) error {
		for _, id := range []int64{attackerID, attackeeID} {
			if _, fighting := c.byUser[id]; fighting {
				return fmt.Errorf("user %d already in battle: %w", id, game.ErrConflict)
			}
		}

		attacker, err := c.users.GetByID(ctx, attackerID)
		if err != nil {
			return err
		}
		attackee, err := c.users.GetByID(ctx, attackeeID)
		if err != nil {
			return err
		}
		if attacker.InBattle || attackee.InBattle {
			return fmt.Errorf("participant already in battle: %w", game.ErrConflict)
		}

		now := c.clock.Now().Unix()
		b = &game.Battle{
			AttackerID:         attackerID,
			AttackeeID:         attackeeID,
			StartTime:          now,
			AttackerCooldowns:  seedCooldowns(attacker, now),
			AttackeeCooldowns:  seedCooldowns(attackee, now),
			AttackerStartStats: game.SnapshotStats(attacker),
			AttackeeStartStats: game.SnapshotStats(attackee),
			Log: []game.BattleEvent{
				{Timestamp: now, Type: game.EventBattleStarted},
			},
		}

		err = withLock(ctx, c.locks, locks.DBBattles, func(ctx context.Context) error {
			return c.store.InsertBattle(ctx, b)
		})
		if err != nil {
			return err
		}

		c.battles[b.ID] = b
		c.byUser[attackerID] = b.ID
		c.byUser[attackeeID] = b.ID

		for _, id := range []int64{attackerID, attackeeID} {
			err := c.users.Apply(ctx, id, func(u *game.User) error {
				u.InBattle = true
				u.CurrentBattleID = b.ID
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, u := range []*game.User{attacker, attackee} {
			if u.ShipID == 0 {
				continue
			}
			if err := c.world.SetShipInBattle(ctx, u.ShipID, true); err != nil && !errors.Is(err, game.ErrNotFound) {
				return err
			}
		}
		c.log.Info().Int64("battle", b.ID).Int64("attacker", attackerID).Int64("attackee", attackeeID).Msg("battle started")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// seedCooldowns makes every owned weapon ready at creation time.
func seedCooldowns(u *game.User, now int64) map[string]int64 {
	cds := make(map[string]int64)
	for _, w := range game.Weapons {
		if u.TechCounts[w.Key] > 0 {
			cds[w.Key] = now
		}
	}
	return cds
}

// LoadIfNeeded returns the cached battle, fetching from the store on a
// miss. Only still-active battles enter the cache.
func (c *BattleCache) LoadIfNeeded(ctx context.Context, battleID int64) (*game.Battle, error) {
	var b *game.Battle
	err := withLock(ctx, c.locks, locks.Battle, func(ctx context.Context) error {
		var err error
		b, err = c.loadLocked(ctx, battleID)
		return err
	})
	return b, err
}

func (c *BattleCache) loadLocked(ctx context.Context, battleID int64) (*game.Battle, error) {
	if b, ok := c.battles[battleID]; ok {
		return b, nil
	}
	var b *game.Battle
	err := withReadLock(ctx, c.locks, locks.DBBattles, func(ctx context.Context) error {
		var err error
		b, err = c.store.GetBattle(ctx, battleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if b.Active() {
		c.battles[b.ID] = b
		c.byUser[b.AttackerID] = b.ID
		c.byUser[b.AttackeeID] = b.ID
	}
	return b, nil
}

// GetActive snapshots the currently active battles.
func (c *BattleCache) GetActive(ctx context.Context) ([]*game.Battle, error) {
	var active []*game.Battle
	err := withLock(ctx, c.locks, locks.Battle, func(context.Context) error {
		active = make([]*game.Battle, 0, len(c.battles))
		for _, b := range c.battles {
			active = append(active, b)
		}
		return nil
	})
	return active, err
}

// GetOngoingForUser returns the user's active battle, checking the index
// first and the store as fallback. ErrNotFound when the user is idle.
func (c *BattleCache) GetOngoingForUser(ctx context.Context, userID int64) (*game.Battle, error) {
	var b *game.Battle
	err := withLock(ctx, c.locks, locks.Battle, func(ctx context.Context) error {
		if id, ok := c.byUser[userID]; ok {
			var err error
			b, err = c.loadLocked(ctx, id)
			return err
		}
		return withReadLock(ctx, c.locks, locks.DBBattles, func(ctx context.Context) error {
			var err error
			b, err = c.store.GetActiveBattleForUser(ctx, userID)
			if err != nil {
				return err
			}
			c.battles[b.ID] = b
			c.byUser[b.AttackerID] = b.ID
			c.byUser[b.AttackeeID] = b.ID
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// AddEvent appends to the battle log.
func (c *BattleCache) AddEvent(ctx context.Context, battleID int64, ev game.BattleEvent) error {
	return c.mutate(ctx, battleID, func(b *game.Battle) error {
		b.Log = append(b.Log, ev)
		return nil
	})
}

// SetWeaponCooldown sets one weapon's next-ready time for the given
// participant.
func (c *BattleCache) SetWeaponCooldown(ctx context.Context, battleID, userID int64, weaponKey string, nextReady int64) error {
	return c.mutate(ctx, battleID, func(b *game.Battle) error {
		side, ok := b.SideOf(userID)
		if !ok {
			return fmt.Errorf("user %d not in battle %d: %w", userID, battleID, game.ErrNotFound)
		}
		b.Cooldowns(side)[weaponKey] = nextReady
		return nil
	})
}

// UpdateTotalDamage adds to one participant's damage counter.
func (c *BattleCache) UpdateTotalDamage(ctx context.Context, battleID, userID int64, delta int64) error {
	return c.mutate(ctx, battleID, func(b *game.Battle) error {
		side, ok := b.SideOf(userID)
		if !ok {
			return fmt.Errorf("user %d not in battle %d: %w", userID, battleID, game.ErrNotFound)
		}
		if side == game.SideAttacker {
			b.AttackerTotalDamage += delta
		} else {
			b.AttackeeTotalDamage += delta
		}
		return nil
	})
}

// UpdateStats records end-of-battle snapshots. End stats are write-once;
// overwriting returns ErrConflict.
func (c *BattleCache) UpdateStats(ctx context.Context, battleID int64, endAttacker, endAttackee *game.BattleStats) error {
	return c.mutate(ctx, battleID, func(b *game.Battle) error {
		if endAttacker != nil {
			if b.AttackerEndStats != nil {
				return fmt.Errorf("attacker end stats already set: %w", game.ErrConflict)
			}
			b.AttackerEndStats = endAttacker
		}
		if endAttackee != nil {
			if b.AttackeeEndStats != nil {
				return fmt.Errorf("attackee end stats already set: %w", game.ErrConflict)
			}
			b.AttackeeEndStats = endAttackee
		}
		return nil
	})
}

// MarkDirty flags a battle whose fields were mutated directly by a caller
// holding BATTLE (the scheduler's turn loop).
func (c *BattleCache) MarkDirty(ctx context.Context, battleID int64) error {
	return withLock(ctx, c.locks, locks.Battle, func(ctx context.Context) error {
		c.dirty[battleID] = struct{}{}
		return c.maybeFlushLocked(ctx)
	})
}

func (c *BattleCache) mutate(ctx context.Context, battleID int64, fn func(b *game.Battle) error) error {
	return withLock(ctx, c.locks, locks.Battle, func(ctx context.Context) error {
		b, err := c.loadLocked(ctx, battleID)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		c.dirty[battleID] = struct{}{}
		return c.maybeFlushLocked(ctx)
	})
}

// End closes the battle: records the outcome and end stats, flushes the row
// synchronously, and drops it from the active index. Ended battles never
// come back.
func (c *BattleCache) End(ctx context.Context, battleID, winnerID, loserID int64, endAttacker, endAttackee *game.BattleStats) error {
	return withLock(ctx, c.locks, locks.Battle, func(ctx context.Context) error {
		b, err := c.loadLocked(ctx, battleID)
		if err != nil {
			return err
		}
		if !b.Active() {
			return fmt.Errorf("battle %d already ended: %w", battleID, game.ErrConflict)
		}
		b.EndTime = c.clock.Now().Unix()
		b.WinnerID = winnerID
		b.LoserID = loserID
		if b.AttackerEndStats == nil {
			b.AttackerEndStats = endAttacker
		}
		if b.AttackeeEndStats == nil {
			b.AttackeeEndStats = endAttackee
		}

		err = withLock(ctx, c.locks, locks.DBBattles, func(ctx context.Context) error {
			return c.store.UpdateBattle(ctx, b)
		})
		if err != nil {
			return err
		}

		delete(c.battles, battleID)
		delete(c.dirty, battleID)
		delete(c.byUser, b.AttackerID)
		delete(c.byUser, b.AttackeeID)
		c.log.Info().Int64("battle", battleID).Int64("winner", winnerID).Int64("loser", loserID).Msg("battle ended")
		return nil
	})
}

func (c *BattleCache) maybeFlushLocked(ctx context.Context) error {
	if !c.syncFlush {
		return nil
	}
	return c.flushLocked(ctx)
}

// FlushDirty writes every dirty active battle back to the store.
func (c *BattleCache) FlushDirty(ctx context.Context) error {
	return withLock(ctx, c.locks, locks.Battle, c.flushLocked)
}

func (c *BattleCache) flushLocked(ctx context.Context) error {
	if len(c.dirty) == 0 {
		return nil
	}
	return withLock(ctx, c.locks, locks.DBBattles, func(ctx context.Context) error {
		flushed := 0
		for id := range c.dirty {
			b, ok := c.battles[id]
			if !ok {
				delete(c.dirty, id)
				continue
			}
			if err := c.store.UpdateBattle(ctx, b); err != nil {
				c.log.Error().Err(err).Int64("battle", id).Msg("flush failed")
				return err
			}
			delete(c.dirty, id)
			flushed++
		}
		c.log.Debug().Int("count", flushed).Msg("flushed battles")
		return nil
	})
}

// StartPersistence launches the periodic write-back timer.
func (c *BattleCache) StartPersistence() {
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
func (c *BattleCache) Close(ctx context.Context) error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
	return c.FlushDirty(ctx)
}

// Stats reports cache occupancy for the stats log.
func (c *BattleCache) Stats(ctx context.Context) (active, dirty int) {
	withLock(ctx, c.locks, locks.Battle, func(context.Context) error {
		active, dirty = len(c.battles), len(c.dirty)
		return nil
	})
	return active, dirty
}
