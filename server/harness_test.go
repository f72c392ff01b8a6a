package server

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/game"
	"github.com/ironstar-game/ironstar/store"
)

// fakeClock drives deterministic time in tests.
type fakeClock struct {
	sec int64
}

func (f *fakeClock) Now() time.Time { return time.Unix(f.sec, 0) }

func (f *fakeClock) advance(seconds int64) { f.sec += seconds }

// newTestServer wires a runtime over an in-memory store with synchronous
// flushing, a fixed random seed and no listener.
func newTestServer(t *testing.T, clock *fakeClock) *Server {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Addr = ""
	cfg.DBPath = ":memory:"
	cfg.AutoPersistence = false
	srv := NewWithClock(cfg, st, zerolog.Nop(), clock, rand.New(rand.NewSource(1)))
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
	})
	return srv
}

// createUser seeds a user row with full defenses. When x, y are
// non-negative a player ship is seeded too.
func createUser(t *testing.T, srv *Server, clock *fakeClock, username string, counts map[string]int, x, y float64) *game.User {
	t.Helper()
	ctx := context.Background()
	u := &game.User{
		Username:         username,
		TechCounts:       counts,
		LastUpdated:      clock.sec,
		DefenseLastRegen: clock.sec,
	}
	u.HullCurrent = u.HullMax()
	u.ArmorCurrent = u.ArmorMax()
	u.ShieldCurrent = u.ShieldMax()
	if x >= 0 && y >= 0 {
		ship := &game.SpaceObject{
			Type:                 game.ObjectPlayerShip,
			X:                    x,
			Y:                    y,
			PictureID:            1,
			LastPositionUpdateMs: clock.sec * 1000,
		}
		if err := srv.store.InsertSpaceObject(ctx, ship); err != nil {
			t.Fatalf("Failed to insert ship: %v", err)
		}
		u.ShipID = ship.ID
	}
	if err := srv.store.InsertUser(ctx, u); err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	return u
}
