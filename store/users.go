package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ironstar-game/ironstar/game"
)

const userColumns = `id, username, password_hash, iron, xp, last_updated, tech_tree,
	ship_id, pulse_laser, auto_turret, plasma_lance, gauss_rifle, photon_torpedo,
	rocket_launcher, ship_hull, kinetic_armor, energy_shield, missile_jammer,
	hull_current, armor_current, shield_current, defense_last_regen,
	in_battle, current_battle_id, build_queue, inventory`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*game.User, error) {
	u := &game.User{TechCounts: make(map[string]int)}
	var (
		techTree   string
		shipID     sql.NullInt64
		battleID   sql.NullInt64
		buildQueue string
		inventory  string
		counts     [10]int
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Iron, &u.XP, &u.LastUpdated, &techTree,
		&shipID, &counts[0], &counts[1], &counts[2], &counts[3], &counts[4],
		&counts[5], &counts[6], &counts[7], &counts[8], &counts[9],
		&u.HullCurrent, &u.ArmorCurrent, &u.ShieldCurrent, &u.DefenseLastRegen,
		&u.InBattle, &battleID, &buildQueue, &inventory,
	)
	if err != nil {
		return nil, err
	}
	for i, key := range []string{
		game.TechPulseLaser, game.TechAutoTurret, game.TechPlasmaLance,
		game.TechGaussRifle, game.TechPhotonTorpedo, game.TechRocketLauncher,
		game.TechShipHull, game.TechKineticArmor, game.TechEnergyShield,
		game.TechMissileJammer,
	} {
		u.TechCounts[key] = counts[i]
	}
	u.ShipID = shipID.Int64
	u.CurrentBattleID = battleID.Int64
	u.TechTree = json.RawMessage(techTree)
	if err := json.Unmarshal([]byte(buildQueue), &u.BuildQueue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inventory), &u.Inventory); err != nil {
		return nil, err
	}
	return u, nil
}

func userArgs(u *game.User) ([]any, error) {
	buildQueue, err := json.Marshal(u.BuildQueue)
	if err != nil {
		return nil, err
	}
	inventory, err := json.Marshal(u.Inventory)
	if err != nil {
		return nil, err
	}
	techTree := u.TechTree
	if len(techTree) == 0 {
		techTree = json.RawMessage("{}")
	}
	return []any{
		u.Username, u.PasswordHash, u.Iron, u.XP, u.LastUpdated, string(techTree),
		nullable(u.ShipID),
		u.TechCounts[game.TechPulseLaser], u.TechCounts[game.TechAutoTurret],
		u.TechCounts[game.TechPlasmaLance], u.TechCounts[game.TechGaussRifle],
		u.TechCounts[game.TechPhotonTorpedo], u.TechCounts[game.TechRocketLauncher],
		u.TechCounts[game.TechShipHull], u.TechCounts[game.TechKineticArmor],
		u.TechCounts[game.TechEnergyShield], u.TechCounts[game.TechMissileJammer],
		u.HullCurrent, u.ArmorCurrent, u.ShieldCurrent, u.DefenseLastRegen,
		u.InBattle, nullable(u.CurrentBattleID), string(buildQueue), string(inventory),
	}, nil
}

func nullable(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// GetUser loads one user row by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*game.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return u, nil
}

// GetUserByUsername loads one user row by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*game.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username)
	u, err := scanUser(row)
	if err != nil {
		return nil, storeErr("get user by username", err)
	}
	return u, nil
}

// InsertUser creates a user row and fills in the assigned id.
func (s *Store) InsertUser(ctx context.Context, u *game.User) error {
	args, err := userArgs(u)
	if err != nil {
		return storeErr("encode user", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (
		username, password_hash, iron, xp, last_updated, tech_tree, ship_id,
		pulse_laser, auto_turret, plasma_lance, gauss_rifle, photon_torpedo,
		rocket_launcher, ship_hull, kinetic_armor, energy_shield, missile_jammer,
		hull_current, armor_current, shield_current, defense_last_regen,
		in_battle, current_battle_id, build_queue, inventory
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return storeErr("insert user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("insert user", err)
	}
	u.ID = id
	return nil
}

// UpdateUser writes all mutable columns of one user row.
func (s *Store) UpdateUser(ctx context.Context, u *game.User) error {
	args, err := userArgs(u)
	if err != nil {
		return storeErr("encode user", err)
	}
	args = append(args, u.ID)
	_, err = s.db.ExecContext(ctx, `UPDATE users SET
		username=?, password_hash=?, iron=?, xp=?, last_updated=?, tech_tree=?, ship_id=?,
		pulse_laser=?, auto_turret=?, plasma_lance=?, gauss_rifle=?, photon_torpedo=?,
		rocket_launcher=?, ship_hull=?, kinetic_armor=?, energy_shield=?, missile_jammer=?,
		hull_current=?, armor_current=?, shield_current=?, defense_last_regen=?,
		in_battle=?, current_battle_id=?, build_queue=?, inventory=?
	WHERE id=?`, args...)
	if err != nil {
		return storeErr("update user", err)
	}
	return nil
}
