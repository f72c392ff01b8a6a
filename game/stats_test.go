package game

import "testing"

func TestUpdateStatsIronAccrual(t *testing.T) {
	u := &User{XP: 1000, LastUpdated: 100, DefenseLastRegen: 100} // level 2

	UpdateStats(u, 160)

	// 60 seconds at level 2.
	if u.Iron != 120 {
		t.Errorf("Expected 120 iron, got %d", u.Iron)
	}
	if u.LastUpdated != 160 {
		t.Errorf("Expected last updated 160, got %d", u.LastUpdated)
	}

	// A second read at the same instant accrues nothing.
	UpdateStats(u, 160)
	if u.Iron != 120 {
		t.Errorf("Expected iron unchanged at 120, got %d", u.Iron)
	}
}

func TestUpdateStatsDefenseRegen(t *testing.T) {
	u := &User{
		TechCounts:       map[string]int{TechShipHull: 5, TechKineticArmor: 2, TechEnergyShield: 1},
		HullCurrent:      400,
		ArmorCurrent:     150,
		ShieldCurrent:    99,
		LastUpdated:      0,
		DefenseLastRegen: 0,
	}
	// DefenseLastRegen of zero initializes the clock without regenerating.
	UpdateStats(u, 1000)
	if u.HullCurrent != 400 {
		t.Fatalf("Expected no regen on first touch, hull went to %d", u.HullCurrent)
	}

	// Two full intervals: hull +10, armor +4, shield capped at max 100.
	UpdateStats(u, 1012)

	if u.HullCurrent != 410 {
		t.Errorf("Expected hull 410, got %d", u.HullCurrent)
	}
	if u.ArmorCurrent != 154 {
		t.Errorf("Expected armor 154, got %d", u.ArmorCurrent)
	}
	if u.ShieldCurrent != 100 {
		t.Errorf("Expected shield capped at 100, got %d", u.ShieldCurrent)
	}
}

func TestUpdateStatsNoRegenInBattle(t *testing.T) {
	u := &User{
		TechCounts:       map[string]int{TechShipHull: 5},
		HullCurrent:      100,
		InBattle:         true,
		DefenseLastRegen: 0,
	}
	UpdateStats(u, 6)
	UpdateStats(u, 60)

	if u.HullCurrent != 100 {
		t.Errorf("Expected no regen while in battle, hull went to %d", u.HullCurrent)
	}
	// The regen clock still advances so battle time is not banked.
	if u.DefenseLastRegen != 60 {
		t.Errorf("Expected regen clock at 60, got %d", u.DefenseLastRegen)
	}
}

func TestUpdateStatsBuildQueueCompletion(t *testing.T) {
	u := &User{
		TechCounts: map[string]int{TechPulseLaser: 1},
		BuildQueue: []BuildItem{
			{ItemKey: TechPulseLaser, ItemType: "weapon", CompletionTime: 50},
			{ItemKey: TechShipHull, ItemType: "defense", CompletionTime: 200},
		},
		LastUpdated:      0,
		DefenseLastRegen: 0,
	}

	completed := UpdateStats(u, 100)

	if len(completed) != 1 || completed[0].ItemKey != TechPulseLaser {
		t.Fatalf("Expected pulse_laser completed, got %v", completed)
	}
	if u.TechCounts[TechPulseLaser] != 2 {
		t.Errorf("Expected pulse_laser count 2, got %d", u.TechCounts[TechPulseLaser])
	}
	if len(u.BuildQueue) != 1 || u.BuildQueue[0].ItemKey != TechShipHull {
		t.Errorf("Expected ship_hull still queued, got %v", u.BuildQueue)
	}
}

func TestSnapshotStats(t *testing.T) {
	u := testUser(7, map[string]int{
		TechShipHull:   5,
		TechPulseLaser: 3,
		TechAutoTurret: 0,
	})

	s := SnapshotStats(u)

	if s.Hull.Current != 500 || s.Hull.Max != 500 {
		t.Errorf("Expected hull 500/500, got %d/%d", s.Hull.Current, s.Hull.Max)
	}
	ws, ok := s.Weapons[TechPulseLaser]
	if !ok || ws.Count != 3 || ws.Damage != 10 || ws.Cooldown != 5 {
		t.Errorf("Unexpected pulse_laser snapshot: %+v", ws)
	}
	if _, ok := s.Weapons[TechAutoTurret]; ok {
		t.Error("Zero-count weapons must not be snapshotted")
	}
}
