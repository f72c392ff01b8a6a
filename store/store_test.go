package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ironstar-game/ironstar/game"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := &game.User{
		Username:     "pilot",
		PasswordHash: "hash",
		Iron:         500,
		XP:           1200,
		LastUpdated:  1000,
		TechCounts: map[string]int{
			game.TechPulseLaser: 2,
			game.TechShipHull:   3,
		},
		HullCurrent:      250,
		ArmorCurrent:     0,
		ShieldCurrent:    0,
		DefenseLastRegen: 1000,
		BuildQueue: []game.BuildItem{
			{ItemKey: game.TechAutoTurret, ItemType: "weapon", CompletionTime: 2000},
		},
		Inventory: [][]*game.InventoryItem{
			{{ItemKey: "iron_ore", ItemType: "resource", Quantity: 10}, nil},
		},
	}

	if err := s.InsertUser(ctx, u); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("Expected assigned id")
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "pilot" || got.Iron != 500 || got.XP != 1200 {
		t.Errorf("Scalar fields did not round-trip: %+v", got)
	}
	if got.TechCounts[game.TechPulseLaser] != 2 || got.TechCounts[game.TechShipHull] != 3 {
		t.Errorf("Tech counts did not round-trip: %v", got.TechCounts)
	}
	if got.ShipID != 0 || got.CurrentBattleID != 0 {
		t.Errorf("Expected zero ship and battle ids, got %d, %d", got.ShipID, got.CurrentBattleID)
	}
	if !reflect.DeepEqual(got.BuildQueue, u.BuildQueue) {
		t.Errorf("Build queue did not round-trip: %v", got.BuildQueue)
	}
	if !reflect.DeepEqual(got.Inventory, u.Inventory) {
		t.Errorf("Inventory did not round-trip: %v", got.Inventory)
	}

	got.Iron = 700
	got.InBattle = true
	got.CurrentBattleID = 42
	if err := s.UpdateUser(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	again, err := s.GetUserByUsername(ctx, "pilot")
	if err != nil {
		t.Fatalf("Get by username failed: %v", err)
	}
	if again.Iron != 700 || !again.InBattle || again.CurrentBattleID != 42 {
		t.Errorf("Update did not persist: %+v", again)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetUser(context.Background(), 999)
	if !errors.Is(err, game.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSpaceObjectsJoinUsernames(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ship := &game.SpaceObject{Type: game.ObjectPlayerShip, X: 100, Y: 200, PictureID: 1}
	if err := s.InsertSpaceObject(ctx, ship); err != nil {
		t.Fatalf("Insert ship failed: %v", err)
	}
	rock := &game.SpaceObject{Type: game.ObjectAsteroid, X: 10, Y: 20, Speed: 5, PictureID: 2}
	if err := s.InsertSpaceObject(ctx, rock); err != nil {
		t.Fatalf("Insert asteroid failed: %v", err)
	}

	owner := &game.User{Username: "pilot", ShipID: ship.ID, InBattle: true,
		TechCounts: map[string]int{}}
	if err := s.InsertUser(ctx, owner); err != nil {
		t.Fatalf("Insert owner failed: %v", err)
	}

	objects, err := s.LoadSpaceObjects(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(objects))
	}
	if objects[0].Username != "pilot" || !objects[0].InBattle {
		t.Errorf("Ship should carry owner username and battle flag: %+v", objects[0])
	}
	if objects[1].Username != "" || objects[1].InBattle {
		t.Errorf("Asteroid should not carry user fields: %+v", objects[1])
	}

	if err := s.DeleteSpaceObject(ctx, rock.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	objects, err = s.LoadSpaceObjects(ctx)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(objects) != 1 {
		t.Errorf("Expected 1 object after delete, got %d", len(objects))
	}
}

func TestBattleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b := &game.Battle{
		AttackerID: 1,
		AttackeeID: 2,
		StartTime:  1000,
		AttackerCooldowns: map[string]int64{
			game.TechPulseLaser: 1005,
		},
		AttackeeCooldowns: map[string]int64{},
		AttackerStartStats: &game.BattleStats{
			Hull:    game.LayerStats{Current: 500, Max: 500},
			Weapons: map[string]game.WeaponStats{game.TechPulseLaser: {Count: 1, Damage: 10, Cooldown: 5}},
		},
		AttackeeStartStats: &game.BattleStats{
			Hull:    game.LayerStats{Current: 300, Max: 300},
			Weapons: map[string]game.WeaponStats{},
		},
		Log: []game.BattleEvent{
			{Timestamp: 1000, Type: game.EventBattleStarted},
		},
	}

	if err := s.InsertBattle(ctx, b); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	active, err := s.GetActiveBattleForUser(ctx, 2)
	if err != nil {
		t.Fatalf("Active lookup failed: %v", err)
	}
	if active.ID != b.ID || !active.Active() {
		t.Errorf("Expected active battle %d, got %+v", b.ID, active)
	}
	if active.AttackerCooldowns[game.TechPulseLaser] != 1005 {
		t.Errorf("Cooldowns did not round-trip: %v", active.AttackerCooldowns)
	}
	if active.AttackerEndStats != nil {
		t.Error("End stats should be nil while active")
	}
	if len(active.Log) != 1 || active.Log[0].Type != game.EventBattleStarted {
		t.Errorf("Log did not round-trip: %v", active.Log)
	}

	active.EndTime = 1100
	active.WinnerID = 1
	active.LoserID = 2
	active.AttackerEndStats = b.AttackerStartStats
	active.AttackeeEndStats = &game.BattleStats{Weapons: map[string]game.WeaponStats{}}
	if err := s.UpdateBattle(ctx, active); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	_, err = s.GetActiveBattleForUser(ctx, 2)
	if !errors.Is(err, game.ErrNotFound) {
		t.Errorf("Expected no active battle after end, got %v", err)
	}

	ended, err := s.GetBattle(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ended.Active() || ended.WinnerID != 1 || ended.LoserID != 2 {
		t.Errorf("End state did not persist: %+v", ended)
	}
	if ended.AttackerEndStats == nil || ended.AttackerEndStats.Hull.Max != 500 {
		t.Errorf("End stats did not round-trip: %+v", ended.AttackerEndStats)
	}

	history, err := s.GetBattlesForUser(ctx, 1, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != b.ID {
		t.Errorf("Expected one history entry, got %v", history)
	}
}

func TestMessageOrderingAndCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, m := range []*game.Message{
		{RecipientID: 1, Text: "first", CreatedAt: 100},
		{RecipientID: 1, Text: "second", CreatedAt: 200},
		{RecipientID: 1, Text: "third", CreatedAt: 300},
		{RecipientID: 2, Text: "other", CreatedAt: 250},
	} {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	newest, err := s.GetMessages(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(newest) != 2 || newest[0].Text != "third" || newest[1].Text != "second" {
		t.Errorf("Expected newest-first limited page, got %v", newest)
	}

	unread, err := s.GetUnreadMessages(ctx, 1)
	if err != nil {
		t.Fatalf("Get unread failed: %v", err)
	}
	if len(unread) != 3 || unread[0].Text != "first" {
		t.Errorf("Expected oldest-first unread list, got %v", unread)
	}

	if err := s.MarkMessagesRead(ctx, []int64{unread[0].ID, unread[1].ID}); err != nil {
		t.Fatalf("Mark batch failed: %v", err)
	}
	unread, err = s.GetUnreadMessages(ctx, 1)
	if err != nil {
		t.Fatalf("Get unread failed: %v", err)
	}
	if len(unread) != 1 || unread[0].Text != "third" {
		t.Errorf("Expected one unread left, got %v", unread)
	}

	// Only read messages older than the cutoff go away.
	n, err := s.DeleteOldReadMessages(ctx, 250)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}

	if err := s.MarkAllMessagesRead(ctx, 1); err != nil {
		t.Fatalf("Mark all failed: %v", err)
	}
	unread, err = s.GetUnreadMessages(ctx, 1)
	if err != nil {
		t.Fatalf("Get unread failed: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("Expected no unread after mark all, got %v", unread)
	}
}
