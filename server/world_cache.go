package server

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/game"
	"github.com/ironstar-game/ironstar/locks"
	"github.com/ironstar-game/ironstar/store"
)

// WorldCache holds the single process-wide world. Reads apply a physics
// step first so positions are always current; a dirty flag tracks pending
// position writes.
type WorldCache struct {
	locks *locks.Manager
	store *store.Store
	clock TimeProvider
	log   zerolog.Logger
	rng   *rand.Rand

	syncFlush bool
	interval  time.Duration

	world *game.World
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// NewWorldCache builds the cache with an empty world of the configured size.
// Call Load before serving.
func NewWorldCache(m *locks.Manager, st *store.Store, clock TimeProvider, cfg Config, log zerolog.Logger, rng *rand.Rand) *WorldCache {
	return &WorldCache{
		locks:     m,
		store:     st,
		clock:     clock,
		log:       log.With().Str("cache", "world").Logger(),
		rng:       rng,
		syncFlush: !cfg.AutoPersistence,
		interval:  cfg.PersistenceInterval,
		world:     &game.World{Width: cfg.WorldWidth, Height: cfg.WorldHeight},
	}
}

// Load populates the world from the store. Player ships arrive with their
// owner's username and battle flag already joined in.
func (c *WorldCache) Load(ctx context.Context) error {
	return withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		var objects []*game.SpaceObject
		err := withReadLock(ctx, c.locks, locks.DBWorld, func(ctx context.Context) error {
			var err error
			objects, err = c.store.LoadSpaceObjects(ctx)
			return err
		})
		if err != nil {
			return err
		}
		c.world.Objects = objects
		c.log.Info().Int("objects", len(objects)).Msg("world loaded")
		return nil
	})
}

// GetWorld steps physics to now and returns the live world. Callers must
// not mutate it outside a WORLD section.
func (c *WorldCache) GetWorld(ctx context.Context) (*game.World, error) {
	var w *game.World
	err := withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		c.stepLocked()
		w = c.world
		return nil
	})
	return w, err
}

func (c *WorldCache) stepLocked() {
	nowMs := c.clock.Now().UnixMilli()
	for _, o := range c.world.Objects {
		if o.Speed != 0 && !o.InBattle {
			c.dirty = true
		}
		game.AdvanceObject(o, nowMs, c.world.Width, c.world.Height)
	}
}

// UpdateWorld replaces the world and marks it dirty.
func (c *WorldCache) UpdateWorld(ctx context.Context, w *game.World) error {
	return withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		c.world = w
		c.dirty = true
		return c.maybeFlushLocked(ctx)
	})
}

// Collected removes a collected object and spawns a replacement so the
// world object count stays constant. Returns the replacement.
func (c *WorldCache) Collected(ctx context.Context, objectID int64) (*game.SpaceObject, error) {
	var spawned *game.SpaceObject
	err := withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		idx := -1
		for i, o := range c.world.Objects {
			if o.ID == objectID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("space object %d: %w", objectID, game.ErrNotFound)
		}
		replacement := c.spawnCollectible()
		err := withLock(ctx, c.locks, locks.DBWorld, func(ctx context.Context) error {
			if err := c.store.DeleteSpaceObject(ctx, objectID); err != nil {
				return err
			}
			return c.store.InsertSpaceObject(ctx, replacement)
		})
		if err != nil {
			return err
		}
		c.world.Objects = append(c.world.Objects[:idx], c.world.Objects[idx+1:]...)
		c.world.Objects = append(c.world.Objects, replacement)
		c.dirty = true
		spawned = replacement
		return c.maybeFlushLocked(ctx)
	})
	return spawned, err
}

// spawnCollectible draws a new collectible: asteroids are common, escape
// pods rare and fast.
func (c *WorldCache) spawnCollectible() *game.SpaceObject {
	objType := game.ObjectAsteroid
	baseSpeed := 5.0
	switch roll := c.rng.Float64(); {
	case roll >= 0.9:
		objType = game.ObjectEscapePod
		baseSpeed = 25.0
	case roll >= 0.6:
		objType = game.ObjectShipwreck
		baseSpeed = 10.0
	}
	// ±25% speed variation.
	speed := baseSpeed * (0.75 + c.rng.Float64()*0.5)
	return &game.SpaceObject{
		Type:                 objType,
		X:                    c.rng.Float64() * c.world.Width,
		Y:                    c.rng.Float64() * c.world.Height,
		Speed:                speed,
		Angle:                c.rng.Float64() * 360,
		LastPositionUpdateMs: c.clock.Now().UnixMilli(),
		PictureID:            1 + c.rng.Intn(8),
	}
}

func (c *WorldCache) findShipLocked(shipID int64) (*game.SpaceObject, error) {
	for _, o := range c.world.Objects {
		if o.ID == shipID && o.Type == game.ObjectPlayerShip {
			return o, nil
		}
	}
	return nil, fmt.Errorf("ship %d: %w", shipID, game.ErrNotFound)
}

// ShipPosition returns a ship's current coordinates after a physics step.
func (c *WorldCache) ShipPosition(ctx context.Context, shipID int64) (x, y float64, err error) {
	err = withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		c.stepLocked()
		ship, err := c.findShipLocked(shipID)
		if err != nil {
			return err
		}
		x, y = ship.X, ship.Y
		return nil
	})
	return x, y, err
}

// PlaceShip moves a ship to the given position and speed immediately.
func (c *WorldCache) PlaceShip(ctx context.Context, shipID int64, x, y, speed float64) error {
	return withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		ship, err := c.findShipLocked(shipID)
		if err != nil {
			return err
		}
		ship.X = game.Wrap(x, c.world.Width)
		ship.Y = game.Wrap(y, c.world.Height)
		ship.Speed = speed
		ship.LastPositionUpdateMs = c.clock.Now().UnixMilli()
		c.dirty = true
		return c.maybeFlushLocked(ctx)
	})
}

// SetShipInBattle pins or releases a ship for battle: pinned ships ignore
// their speed during physics.
func (c *WorldCache) SetShipInBattle(ctx context.Context, shipID int64, inBattle bool) error {
	return withLock(ctx, c.locks, locks.World, func(ctx context.Context) error {
		ship, err := c.findShipLocked(shipID)
		if err != nil {
			return err
		}
		c.stepLocked()
		ship.InBattle = inBattle
		return nil
	})
}

func (c *WorldCache) maybeFlushLocked(ctx context.Context) error {
	if !c.syncFlush {
		return nil
	}
	return c.flushLocked(ctx)
}

// Flush persists every object position.
func (c *WorldCache) Flush(ctx context.Context) error {
	return withLock(ctx, c.locks, locks.World, c.flushLocked)
}

func (c *WorldCache) flushLocked(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	return withLock(ctx, c.locks, locks.DBWorld, func(ctx context.Context) error {
		for _, o := range c.world.Objects {
			if err := c.store.UpdateSpaceObject(ctx, o); err != nil {
				c.log.Error().Err(err).Int64("object", o.ID).Msg("flush failed")
				return err
			}
		}
		c.dirty = false
		c.log.Debug().Int("count", len(c.world.Objects)).Msg("flushed world")
		return nil
	})
}

// StartPersistence launches the periodic write-back timer.
func (c *WorldCache) StartPersistence() {
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
				if err := c.Flush(context.Background()); err != nil {
					c.log.Error().Err(err).Msg("periodic flush failed")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the timer and performs a final flush.
func (c *WorldCache) Close(ctx context.Context) error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
	return c.Flush(ctx)
}

// Stats reports object count for the stats log.
func (c *WorldCache) Stats(ctx context.Context) (objects int, dirty bool) {
	withLock(ctx, c.locks, locks.World, func(context.Context) error {
		objects, dirty = len(c.world.Objects), c.dirty
		return nil
	})
	return objects, dirty
}
