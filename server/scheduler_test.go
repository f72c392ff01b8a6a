package server

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ironstar-game/ironstar/game"
)

func TestBattleCreateToEndCycle(t *testing.T) {
	clock := &fakeClock{sec: 10000}
	srv := newTestServer(t, clock)
	ctx := context.Background()

	counts := map[string]int{game.TechShipHull: 3, game.TechPulseLaser: 1}
	attacker := createUser(t, srv, clock, "attacker", counts, 100, 100)
	attackee := createUser(t, srv, clock, "attackee", counts, 200, 200)
	if err := srv.World.Load(ctx); err != nil {
		t.Fatalf("World load failed: %v", err)
	}

	b, err := srv.Battles.Create(ctx, attacker.ID, attackee.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 0; i < 200; i++ {
		srv.Scheduler.Tick(ctx)
		if active, _ := srv.Battles.GetActive(ctx); len(active) == 0 {
			break
		}
		clock.advance(1)
	}

	active, err := srv.Battles.GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatal("Battle never resolved within 200 ticks")
	}

	if _, err := srv.Battles.GetOngoingForUser(ctx, attacker.ID); !errors.Is(err, game.ErrNotFound) {
		t.Errorf("Expected no ongoing battle, got %v", err)
	}

	history, err := srv.store.GetBattlesForUser(ctx, attacker.ID, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != b.ID {
		t.Fatalf("Expected one history entry, got %v", history)
	}
	ended := history[0]
	if ended.Active() {
		t.Error("History battle should have an end time")
	}
	// Attacker fires first each tick, so with equal loadouts the attacker
	// lands the killing shot.
	if ended.WinnerID != attacker.ID || ended.LoserID != attackee.ID {
		t.Errorf("Expected attacker victory, got winner %d loser %d", ended.WinnerID, ended.LoserID)
	}
	if ended.AttackerEndStats == nil || ended.AttackeeEndStats == nil {
		t.Fatal("Ended battle must carry both end stats")
	}
	if ended.AttackeeEndStats.Hull.Current != 0 {
		t.Errorf("Expected loser hull 0, got %d", ended.AttackeeEndStats.Hull.Current)
	}

	for _, id := range []int64{attacker.ID, attackee.ID} {
		u, err := srv.Users.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if u.InBattle || u.CurrentBattleID != 0 {
			t.Errorf("User %d still flagged in battle: %+v", id, u)
		}
	}

	loser, _ := srv.Users.GetByID(ctx, attackee.ID)
	if loser.HullCurrent != 0 {
		t.Errorf("Expected loser hull 0, got %d", loser.HullCurrent)
	}

	winner, _ := srv.Users.GetByID(ctx, attacker.ID)
	if winner.XP < 110 {
		t.Errorf("Expected winner XP award of at least 110, got %d", winner.XP)
	}

	// Loser teleported: stopped, and far from the winner.
	world, _ := srv.World.GetWorld(ctx)
	var winnerShip, loserShip *game.SpaceObject
	for _, o := range world.Objects {
		switch o.ID {
		case winner.ShipID:
			winnerShip = o
		case loser.ShipID:
			loserShip = o
		}
	}
	if winnerShip == nil || loserShip == nil {
		t.Fatal("Ships missing from world")
	}
	if loserShip.Speed != 0 {
		t.Errorf("Expected loser ship stopped, got speed %f", loserShip.Speed)
	}
	dist := game.ToroidalDistance(loserShip.X, loserShip.Y, winnerShip.X, winnerShip.Y, world.Width, world.Height)
	if dist < world.Width/3 {
		t.Errorf("Expected teleport distance >= %f, got %f", world.Width/3, dist)
	}

	// Both fighters got shot notifications plus the outcome message.
	winnerMsgs, err := srv.Messages.GetUnread(ctx, winner.ID)
	if err != nil {
		t.Fatalf("GetUnread failed: %v", err)
	}
	if len(winnerMsgs) == 0 {
		t.Fatal("Winner should have notifications")
	}
	last := winnerMsgs[len(winnerMsgs)-1]
	if last.Text[:2] != "P:" {
		t.Errorf("Expected a positive outcome message, got %q", last.Text)
	}
}

func TestCooldownScheduling(t *testing.T) {
	clock := &fakeClock{sec: 1000}
	srv := newTestServer(t, clock)
	ctx := context.Background()

	attacker := createUser(t, srv, clock, "gunner",
		map[string]int{game.TechShipHull: 100, game.TechPulseLaser: 1}, -1, -1)
	defender := createUser(t, srv, clock, "target",
		map[string]int{game.TechShipHull: 100}, -1, -1)

	b, err := srv.Battles.Create(ctx, attacker.ID, defender.ID)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	srv.Scheduler.Tick(ctx) // t=1000

	u, _ := srv.Users.GetByID(ctx, defender.ID)
	if u.HullCurrent != 9990 {
		t.Fatalf("Expected one 10-damage shot, hull %d", u.HullCurrent)
	}
	battle, _ := srv.Battles.LoadIfNeeded(ctx, b.ID)
	if battle.AttackerCooldowns[game.TechPulseLaser] != 1005 {
		t.Errorf("Expected cooldown 1005, got %d", battle.AttackerCooldowns[game.TechPulseLaser])
	}

	clock.advance(3)
	srv.Scheduler.Tick(ctx) // t=1003, not ready
	u, _ = srv.Users.GetByID(ctx, defender.ID)
	if u.HullCurrent != 9990 {
		t.Errorf("Expected no shot at t+3, hull %d", u.HullCurrent)
	}

	clock.advance(2)
	srv.Scheduler.Tick(ctx) // t=1005, ready again
	u, _ = srv.Users.GetByID(ctx, defender.ID)
	if u.HullCurrent != 9980 {
		t.Errorf("Expected second shot at t+5, hull %d", u.HullCurrent)
	}
}

func TestCreateConflictsWithActiveBattle(t *testing.T) {
	clock := &fakeClock{sec: 1000}
	srv := newTestServer(t, clock)
	ctx := context.Background()

	counts := map[string]int{game.TechShipHull: 1, game.TechPulseLaser: 1}
	u1 := createUser(t, srv, clock, "one", counts, -1, -1)
	u2 := createUser(t, srv, clock, "two", counts, -1, -1)
	u3 := createUser(t, srv, clock, "three", counts, -1, -1)

	if _, err := srv.Battles.Create(ctx, u1.ID, u2.ID); err != nil {
		t.Fatalf("First create failed: %v", err)
	}
	if _, err := srv.Battles.Create(ctx, u1.ID, u3.ID); !errors.Is(err, game.ErrConflict) {
		t.Errorf("Expected conflict for busy attacker, got %v", err)
	}
	if _, err := srv.Battles.Create(ctx, u3.ID, u2.ID); !errors.Is(err, game.ErrConflict) {
		t.Errorf("Expected conflict for busy attackee, got %v", err)
	}
	if _, err := srv.Battles.Create(ctx, u3.ID, u3.ID); !errors.Is(err, game.ErrConflict) {
		t.Errorf("Expected conflict for self-attack, got %v", err)
	}
}

func TestEmptyTickIsNoOp(t *testing.T) {
	clock := &fakeClock{sec: 1000}
	srv := newTestServer(t, clock)
	ctx := context.Background()

	srv.Scheduler.Tick(ctx)

	active, err := srv.Battles.GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no battles, got %d", len(active))
	}
}

func TestTeleportPointDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		wx := rng.Float64() * 5000
		wy := rng.Float64() * 5000
		x, y := teleportPoint(rng, wx, wy, 5000, 5000, 5000.0/3)
		if d := game.ToroidalDistance(x, y, wx, wy, 5000, 5000); d < 5000.0/3 {
			t.Fatalf("Sample %d too close: %f", i, d)
		}
	}
}

func TestTeleportPointFallback(t *testing.T) {
	// No point satisfies a minimum beyond the maximal toroidal distance,
	// so sampling must fall back to the opposite point.
	rng := rand.New(rand.NewSource(42))
	x, y := teleportPoint(rng, 1000, 2000, 5000, 5000, 10000)
	if x != 3500 || y != 4500 {
		t.Errorf("Expected opposite point (3500, 4500), got (%f, %f)", x, y)
	}
}
