package game

// Iron accrues continuously at one unit per second per level.
const ironPerSecondPerLevel = 1

// UpdateStats advances a user's time-derived state to now: iron accrual,
// defense regeneration, and build-queue completion. The user cache applies
// it on every read so cached users never serve stale accruals. Completed
// build items are returned so the caller can notify the user.
func UpdateStats(u *User, now int64) []BuildItem {
	if elapsed := now - u.LastUpdated; elapsed > 0 {
		u.Iron += elapsed * int64(u.Level()) * ironPerSecondPerLevel
	}

	regenDefenses(u, now)

	var completed []BuildItem
	if len(u.BuildQueue) > 0 {
		remaining := u.BuildQueue[:0]
		for _, item := range u.BuildQueue {
			if item.CompletionTime <= now {
				if u.TechCounts == nil {
					u.TechCounts = make(map[string]int)
				}
				u.TechCounts[item.ItemKey]++
				completed = append(completed, item)
			} else {
				remaining = append(remaining, item)
			}
		}
		u.BuildQueue = remaining
	}

	if now > u.LastUpdated {
		u.LastUpdated = now
	}
	return completed
}

// regenDefenses restores each layer by its tech count once per regen
// interval. Regeneration pauses during battle; the regen clock still
// advances so time in battle is not banked.
func regenDefenses(u *User, now int64) {
	if u.DefenseLastRegen == 0 {
		u.DefenseLastRegen = now
		return
	}
	intervals := (now - u.DefenseLastRegen) / DefenseRegenInterval
	if intervals <= 0 {
		return
	}
	u.DefenseLastRegen += intervals * DefenseRegenInterval
	if u.InBattle {
		return
	}
	gain := func(current, max, perInterval int) int {
		current += perInterval * int(intervals)
		if current > max {
			current = max
		}
		return current
	}
	u.HullCurrent = gain(u.HullCurrent, u.HullMax(), u.TechCounts[TechShipHull])
	u.ArmorCurrent = gain(u.ArmorCurrent, u.ArmorMax(), u.TechCounts[TechKineticArmor])
	u.ShieldCurrent = gain(u.ShieldCurrent, u.ShieldMax(), u.TechCounts[TechEnergyShield])
}
