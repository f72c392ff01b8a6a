package game

// XP thresholds follow a triangular progression: advancing from level L to
// L+1 costs L(L+1)/2 * 1000 XP. Level 2 therefore starts at 1000 XP,
// level 3 at 4000, level 4 at 10000.
const levelStepXP = 1000

// Level returns the level for an XP total. Levels start at 1.
func Level(xp int64) int {
	level := 1
	var need int64
	for k := int64(1); ; k++ {
		need += k * (k + 1) / 2 * levelStepXP
		if xp < need {
			return level
		}
		level++
	}
}

// LevelChange reports a level transition caused by an XP award.
type LevelChange struct {
	OldLevel int `json:"oldLevel"`
	NewLevel int `json:"newLevel"`
}

// AddXP grants XP to the user and reports the level transition. XP never
// decreases; negative amounts are ignored.
func AddXP(u *User, amount int64) LevelChange {
	change := LevelChange{OldLevel: u.Level()}
	if amount > 0 {
		u.XP += amount
	}
	change.NewLevel = u.Level()
	return change
}
