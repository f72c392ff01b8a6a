package game

import "testing"

func TestLevel(t *testing.T) {
	tests := []struct {
		xp       int64
		expected int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{3999, 2},
		{4000, 3},
		{9999, 3},
		{10000, 4},
	}

	for _, tt := range tests {
		if got := Level(tt.xp); got != tt.expected {
			t.Errorf("Level(%d) = %d, want %d", tt.xp, got, tt.expected)
		}
	}
}

func TestAddXP(t *testing.T) {
	u := &User{XP: 500}

	change := AddXP(u, 1500)

	if change.OldLevel != 1 {
		t.Errorf("Expected old level 1, got %d", change.OldLevel)
	}
	if change.NewLevel != 2 {
		t.Errorf("Expected new level 2, got %d", change.NewLevel)
	}
	if u.XP != 2000 {
		t.Errorf("Expected xp 2000, got %d", u.XP)
	}
}

func TestAddXPNeverDecreases(t *testing.T) {
	u := &User{XP: 1200}

	change := AddXP(u, -500)

	if u.XP != 1200 {
		t.Errorf("Expected xp unchanged at 1200, got %d", u.XP)
	}
	if change.OldLevel != change.NewLevel {
		t.Errorf("Expected no level change, got %d -> %d", change.OldLevel, change.NewLevel)
	}
}
