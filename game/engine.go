package game

import "fmt"

// The battle engine is pure combat mechanics over one battle and its two
// participants. All state lives in the Battle and User values handed in;
// the engine never touches a cache or the store.

// Shot names the next weapon to fire. TimeUntilReady is zero when the
// weapon can fire now, otherwise the seconds until it becomes ready.
type Shot struct {
	Side           Side
	WeaponKey      string
	TimeUntilReady int64
}

// DamageResult is the projected effect of one volley before it is applied.
type DamageResult struct {
	Hits         int
	ShieldDamage int
	ArmorDamage  int
	HullDamage   int
	Total        int
}

// DamageReport is the realized effect of damage on a defender, with the
// remaining value of each layer after application.
type DamageReport struct {
	ShieldDamage    int
	ArmorDamage     int
	HullDamage      int
	ShieldRemaining int
	ArmorRemaining  int
	HullRemaining   int
}

// TechModifiers reserves accuracy, countermeasure and spread tuning. The
// zero value is neutral: every shot hits for full damage.
type TechModifiers struct {
	Accuracy float64
	ECM      float64
	Spread   float64
}

// ReadyWeapons lists the weapon keys on one side with a positive count
// whose cooldown has elapsed at now, in catalog order.
func ReadyWeapons(b *Battle, side Side, now int64) []string {
	stats := b.StartStats(side)
	if stats == nil {
		return nil
	}
	cooldowns := b.Cooldowns(side)
	var ready []string
	for _, w := range Weapons {
		ws, ok := stats.Weapons[w.Key]
		if !ok || ws.Count <= 0 {
			continue
		}
		if cooldowns[w.Key] <= now {
			ready = append(ready, w.Key)
		}
	}
	return ready
}

// NextShot chooses the next firing weapon. If any weapon on either side is
// ready at now, the attacker is tried first and the first ready weapon in
// catalog order wins. Otherwise the weapon with the smallest remaining
// cooldown across both sides is returned with a positive TimeUntilReady,
// attacker winning ties. Returns nil when neither side has weapons.
func NextShot(b *Battle, now int64) *Shot {
	for _, side := range []Side{SideAttacker, SideAttackee} {
		if ready := ReadyWeapons(b, side, now); len(ready) > 0 {
			return &Shot{Side: side, WeaponKey: ready[0]}
		}
	}

	var best *Shot
	for _, side := range []Side{SideAttacker, SideAttackee} {
		stats := b.StartStats(side)
		if stats == nil {
			continue
		}
		cooldowns := b.Cooldowns(side)
		for _, w := range Weapons {
			ws, ok := stats.Weapons[w.Key]
			if !ok || ws.Count <= 0 {
				continue
			}
			wait := cooldowns[w.Key] - now
			if wait <= 0 {
				wait = 0
			}
			if best == nil || wait < best.TimeUntilReady {
				best = &Shot{Side: side, WeaponKey: w.Key, TimeUntilReady: wait}
			}
		}
	}
	return best
}

// CalculateDamage projects one volley of the given weapon against the
// defender's current layers without mutating anything. Modifiers are
// neutral for now: hits equals the weapon count and each hit lands for
// full damage.
func CalculateDamage(weaponKey string, count int, attacker, defender *User, mods TechModifiers) (DamageResult, error) {
	spec, ok := WeaponByKey(weaponKey)
	if !ok {
		return DamageResult{}, fmt.Errorf("unknown weapon %q: %w", weaponKey, ErrNotFound)
	}
	if count <= 0 {
		return DamageResult{}, nil
	}

	res := DamageResult{Hits: count, Total: spec.Damage * count}

	remaining := res.Total
	res.ShieldDamage = min(remaining, defender.ShieldCurrent)
	remaining -= res.ShieldDamage
	res.ArmorDamage = min(remaining, defender.ArmorCurrent)
	remaining -= res.ArmorDamage
	res.HullDamage = min(remaining, defender.HullCurrent)
	return res, nil
}

// ApplyDamage applies total damage to the defender, draining shield, then
// armor, then hull, never below zero. Start and end snapshots are not
// touched; only the live current values move.
func ApplyDamage(defender *User, total int) DamageReport {
	var r DamageReport
	if total > 0 {
		r.ShieldDamage = min(total, defender.ShieldCurrent)
		defender.ShieldCurrent -= r.ShieldDamage
		total -= r.ShieldDamage

		r.ArmorDamage = min(total, defender.ArmorCurrent)
		defender.ArmorCurrent -= r.ArmorDamage
		total -= r.ArmorDamage

		r.HullDamage = min(total, defender.HullCurrent)
		defender.HullCurrent -= r.HullDamage
	}
	r.ShieldRemaining = defender.ShieldCurrent
	r.ArmorRemaining = defender.ArmorCurrent
	r.HullRemaining = defender.HullCurrent
	return r
}

// UpdateCooldown sets the weapon's next ready time to now plus its
// cooldown.
func UpdateCooldown(b *Battle, side Side, weaponKey string, now int64) {
	spec, ok := WeaponByKey(weaponKey)
	if !ok {
		return
	}
	b.Cooldowns(side)[weaponKey] = now + spec.Cooldown
}

// ShotEvents builds the battle-log entries for one resolved shot: the
// shot_fired entry, one damage_dealt entry per layer touched, and a
// layer-broken entry for each layer that just reached zero.
func ShotEvents(shooter Side, weaponKey string, hits int, r DamageReport, now int64) []BattleEvent {
	events := []BattleEvent{{
		Timestamp: now,
		Type:      EventShotFired,
		Actor:     shooter,
		Data:      map[string]any{"weapon": weaponKey, "hits": hits},
	}}
	layer := func(name string, amount int) {
		events = append(events, BattleEvent{
			Timestamp: now,
			Type:      EventDamageDealt,
			Actor:     shooter,
			Data:      map[string]any{"layer": name, "amount": amount},
		})
	}
	if r.ShieldDamage > 0 {
		layer("shield", r.ShieldDamage)
	}
	if r.ArmorDamage > 0 {
		layer("armor", r.ArmorDamage)
	}
	if r.HullDamage > 0 {
		layer("hull", r.HullDamage)
	}
	broken := func(eventType string) {
		events = append(events, BattleEvent{Timestamp: now, Type: eventType, Actor: shooter})
	}
	if r.ShieldDamage > 0 && r.ShieldRemaining == 0 {
		broken(EventShieldBroken)
	}
	if r.ArmorDamage > 0 && r.ArmorRemaining == 0 {
		broken(EventArmorBroken)
	}
	if r.HullDamage > 0 && r.HullRemaining == 0 {
		broken(EventHullDestroyed)
	}
	return events
}

// TurnResult describes the shot resolved by ExecuteTurn.
type TurnResult struct {
	Side      Side
	WeaponKey string
	Hits      int
	Report    DamageReport
}

// ExecuteTurn resolves the single next shot of the battle at now. Returns
// nil when no weapon is ready yet (or neither side has weapons). On a
// resolved shot the defender's layers are drained, the shooter's cooldown
// advances, the side's total-damage counter grows, and the shot's events
// are appended to the battle log.
func ExecuteTurn(b *Battle, attacker, attackee *User, now int64) (*TurnResult, error) {
	shot := NextShot(b, now)
	if shot == nil || shot.TimeUntilReady > 0 {
		return nil, nil
	}

	defender := attackee
	shooterUser := attacker
	if shot.Side == SideAttackee {
		defender = attacker
		shooterUser = attackee
	}

	count := b.StartStats(shot.Side).Weapons[shot.WeaponKey].Count
	res, err := CalculateDamage(shot.WeaponKey, count, shooterUser, defender, TechModifiers{})
	if err != nil {
		return nil, err
	}

	report := ApplyDamage(defender, res.Total)
	UpdateCooldown(b, shot.Side, shot.WeaponKey, now)

	dealt := int64(report.ShieldDamage + report.ArmorDamage + report.HullDamage)
	if shot.Side == SideAttacker {
		b.AttackerTotalDamage += dealt
	} else {
		b.AttackeeTotalDamage += dealt
	}

	b.Log = append(b.Log, ShotEvents(shot.Side, shot.WeaponKey, res.Hits, report, now)...)

	return &TurnResult{Side: shot.Side, WeaponKey: shot.WeaponKey, Hits: res.Hits, Report: report}, nil
}

// IsOver reports whether either participant's hull is gone.
func IsOver(attacker, attackee *User) bool {
	return attacker.HullCurrent <= 0 || attackee.HullCurrent <= 0
}

// Outcome returns the winner and loser once the battle is over. When both
// hulls are gone the attacker loses: the defender's last shot takes
// priority.
func Outcome(b *Battle, attacker, attackee *User) (winnerID, loserID int64, over bool) {
	if !IsOver(attacker, attackee) {
		return 0, 0, false
	}
	if attacker.HullCurrent <= 0 {
		return b.AttackeeID, b.AttackerID, true
	}
	return b.AttackerID, b.AttackeeID, true
}
