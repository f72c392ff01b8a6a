package game

import (
	"encoding/json"
)

// World dimensions and timing defaults
const (
	DefaultWorldWidth  = 5000.0
	DefaultWorldHeight = 5000.0

	// Each point of a defense tech adds this much to the layer maximum
	DefensePointsPerTech = 100

	// Defense layers regenerate one point per owned tech every interval
	DefenseRegenInterval = 6 // seconds
)

// Space object types
const (
	ObjectPlayerShip = "player_ship"
	ObjectAsteroid   = "asteroid"
	ObjectShipwreck  = "shipwreck"
	ObjectEscapePod  = "escape_pod"
)

// Side identifies a battle participant role. Every cross-participant
// operation takes a side tag so the engine dispatches uniformly instead of
// branching on user ids.
type Side string

const (
	SideAttacker Side = "attacker"
	SideAttackee Side = "attackee"
)

// Opposite returns the other side of a battle.
func (s Side) Opposite() Side {
	if s == SideAttacker {
		return SideAttackee
	}
	return SideAttacker
}

// Battle event types
const (
	EventBattleStarted = "battle_started"
	EventShotFired     = "shot_fired"
	EventDamageDealt   = "damage_dealt"
	EventShieldBroken  = "shield_broken"
	EventArmorBroken   = "armor_broken"
	EventHullDestroyed = "hull_destroyed"
	EventBattleEnded   = "battle_ended"
)

// Tech keys for weapons
const (
	TechPulseLaser     = "pulse_laser"
	TechAutoTurret     = "auto_turret"
	TechRocketLauncher = "rocket_launcher"
	TechGaussRifle     = "gauss_rifle"
	TechPlasmaLance    = "plasma_lance"
	TechPhotonTorpedo  = "photon_torpedo"
)

// Tech keys for defenses and countermeasures
const (
	TechShipHull      = "ship_hull"
	TechKineticArmor  = "kinetic_armor"
	TechEnergyShield  = "energy_shield"
	TechMissileJammer = "missile_jammer"
)

// WeaponSpec holds the combat characteristics of one weapon type.
type WeaponSpec struct {
	Key      string
	Damage   int
	Cooldown int64 // seconds between shots
}

// Weapons is the fixed weapon catalog. Slice order is the firing iteration
// order everywhere (ready-weapon scans, tie-breaks), so it must stay stable.
var Weapons = []WeaponSpec{
	{Key: TechPulseLaser, Damage: 10, Cooldown: 5},
	{Key: TechAutoTurret, Damage: 5, Cooldown: 2},
	{Key: TechRocketLauncher, Damage: 15, Cooldown: 10},
	{Key: TechGaussRifle, Damage: 25, Cooldown: 15},
	{Key: TechPlasmaLance, Damage: 40, Cooldown: 30},
	{Key: TechPhotonTorpedo, Damage: 60, Cooldown: 45},
}

// WeaponByKey looks up a weapon spec by its tech key.
func WeaponByKey(key string) (WeaponSpec, bool) {
	for _, w := range Weapons {
		if w.Key == key {
			return w, true
		}
	}
	return WeaponSpec{}, false
}

// TechKeys lists every tech key persisted in its own users-table column.
var TechKeys = []string{
	TechPulseLaser, TechAutoTurret, TechPlasmaLance, TechGaussRifle,
	TechPhotonTorpedo, TechRocketLauncher, TechShipHull, TechKineticArmor,
	TechEnergyShield, TechMissileJammer,
}

// BuildItem is one pending entry in a user's build queue.
type BuildItem struct {
	ItemKey        string `json:"itemKey"`
	ItemType       string `json:"itemType"`
	CompletionTime int64  `json:"completionTime"` // epoch seconds
}

// InventoryItem is one stack in a user's cargo grid.
type InventoryItem struct {
	ItemKey  string `json:"itemKey"`
	ItemType string `json:"itemType"`
	Quantity int    `json:"quantity"`
}

// User is the authoritative mutable state of one player. It is owned by the
// user cache; nothing else mutates it.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Iron         int64  `json:"iron"`
	XP           int64  `json:"xp"`
	LastUpdated  int64  `json:"lastUpdated"` // epoch seconds

	// TechTree is the research graph. The core never interprets it; it is
	// round-tripped for the tech handlers.
	TechTree   json.RawMessage `json:"techTree,omitempty"`
	TechCounts map[string]int  `json:"techCounts"`

	ShipID int64 `json:"shipId"` // 0 = no ship

	HullCurrent      int   `json:"hullCurrent"`
	ArmorCurrent     int   `json:"armorCurrent"`
	ShieldCurrent    int   `json:"shieldCurrent"`
	DefenseLastRegen int64 `json:"defenseLastRegen"`

	InBattle        bool  `json:"inBattle"`
	CurrentBattleID int64 `json:"currentBattleId"` // 0 = none

	BuildQueue []BuildItem        `json:"buildQueue"`
	Inventory  [][]*InventoryItem `json:"inventory"`
}

// HullMax returns the derived hull maximum from owned tech.
func (u *User) HullMax() int {
	return u.TechCounts[TechShipHull] * DefensePointsPerTech
}

// ArmorMax returns the derived armor maximum from owned tech.
func (u *User) ArmorMax() int {
	return u.TechCounts[TechKineticArmor] * DefensePointsPerTech
}

// ShieldMax returns the derived shield maximum from owned tech.
func (u *User) ShieldMax() int {
	return u.TechCounts[TechEnergyShield] * DefensePointsPerTech
}

// Level returns the user's current level derived from XP.
func (u *User) Level() int {
	return Level(u.XP)
}

// SpaceObject is one entity in the world: a player ship or a collectible.
type SpaceObject struct {
	ID                   int64   `json:"id"`
	Type                 string  `json:"type"`
	X                    float64 `json:"x"`
	Y                    float64 `json:"y"`
	Speed                float64 `json:"speed"` // units per second
	Angle                float64 `json:"angle"` // degrees, 0 = +x
	LastPositionUpdateMs int64   `json:"lastPositionUpdateMs"`
	PictureID            int     `json:"pictureId"`

	// Username is set only for player_ship objects, joined from the owner
	// row at load time.
	Username string `json:"username,omitempty"`
	// InBattle forces speed to zero during physics while the owner fights.
	InBattle bool `json:"inBattle,omitempty"`
}

// World is the single process-wide world value.
type World struct {
	Width   float64        `json:"width"`
	Height  float64        `json:"height"`
	Objects []*SpaceObject `json:"spaceObjects"`
}

// LayerStats is the current/max pair for one defense layer.
type LayerStats struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// WeaponStats is the snapshot of one weapon type in a battle.
type WeaponStats struct {
	Count    int   `json:"count"`
	Damage   int   `json:"damage"`
	Cooldown int64 `json:"cooldown"`
}

// BattleStats is an immutable snapshot of one participant. Start stats are
// taken at creation and never change; end stats are written exactly once.
type BattleStats struct {
	Hull    LayerStats             `json:"hull"`
	Armor   LayerStats             `json:"armor"`
	Shield  LayerStats             `json:"shield"`
	Weapons map[string]WeaponStats `json:"weapons"`
}

// SnapshotStats captures a user's live combat state.
func SnapshotStats(u *User) *BattleStats {
	s := &BattleStats{
		Hull:    LayerStats{Current: u.HullCurrent, Max: u.HullMax()},
		Armor:   LayerStats{Current: u.ArmorCurrent, Max: u.ArmorMax()},
		Shield:  LayerStats{Current: u.ShieldCurrent, Max: u.ShieldMax()},
		Weapons: make(map[string]WeaponStats),
	}
	for _, w := range Weapons {
		if count := u.TechCounts[w.Key]; count > 0 {
			s.Weapons[w.Key] = WeaponStats{Count: count, Damage: w.Damage, Cooldown: w.Cooldown}
		}
	}
	return s
}

// BattleEvent is one append-only entry in a battle log.
type BattleEvent struct {
	Timestamp int64          `json:"timestamp"` // epoch seconds
	Type      string         `json:"type"`
	Actor     Side           `json:"actor"`
	Data      map[string]any `json:"data,omitempty"`
}

// Battle is one engagement between two users. Owned by the battle cache.
type Battle struct {
	ID         int64 `json:"id"`
	AttackerID int64 `json:"attackerId"`
	AttackeeID int64 `json:"attackeeId"`

	StartTime int64 `json:"battleStartTime"` // epoch seconds
	EndTime   int64 `json:"battleEndTime"`   // 0 while active
	WinnerID  int64 `json:"winnerId"`        // 0 while active
	LoserID   int64 `json:"loserId"`         // 0 while active

	// Cooldowns map weapon key to the epoch second the weapon is next ready.
	AttackerCooldowns map[string]int64 `json:"attackerWeaponCooldowns"`
	AttackeeCooldowns map[string]int64 `json:"attackeeWeaponCooldowns"`

	AttackerStartStats *BattleStats `json:"attackerStartStats"`
	AttackeeStartStats *BattleStats `json:"attackeeStartStats"`
	AttackerEndStats   *BattleStats `json:"attackerEndStats,omitempty"`
	AttackeeEndStats   *BattleStats `json:"attackeeEndStats,omitempty"`

	Log []BattleEvent `json:"battleLog"`

	AttackerTotalDamage int64 `json:"attackerTotalDamage"`
	AttackeeTotalDamage int64 `json:"attackeeTotalDamage"`
}

// Active reports whether the battle has not ended yet.
func (b *Battle) Active() bool {
	return b.EndTime == 0
}

// ParticipantID returns the user id fighting on the given side.
func (b *Battle) ParticipantID(side Side) int64 {
	if side == SideAttacker {
		return b.AttackerID
	}
	return b.AttackeeID
}

// SideOf returns which side the given user fights on.
func (b *Battle) SideOf(userID int64) (Side, bool) {
	switch userID {
	case b.AttackerID:
		return SideAttacker, true
	case b.AttackeeID:
		return SideAttackee, true
	}
	return "", false
}

// Cooldowns returns the cooldown map for one side.
func (b *Battle) Cooldowns(side Side) map[string]int64 {
	if side == SideAttacker {
		return b.AttackerCooldowns
	}
	return b.AttackeeCooldowns
}

// StartStats returns the creation-time snapshot for one side.
func (b *Battle) StartStats(side Side) *BattleStats {
	if side == SideAttacker {
		return b.AttackerStartStats
	}
	return b.AttackeeStartStats
}

// Message is one notification delivered to a user's message feed.
type Message struct {
	ID          int64  `json:"id"`
	RecipientID int64  `json:"recipientId"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"createdAt"` // epoch seconds
	IsRead      bool   `json:"isRead"`
}
