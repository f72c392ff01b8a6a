// Package store is the sqlite persistent store behind the caches. It owns
// schema creation and typed row CRUD for the four tables; all coordination
// (which task may write which table when) lives with the lock manager, not
// here.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ironstar-game/ironstar/game"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	iron INTEGER NOT NULL DEFAULT 0,
	xp INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL DEFAULT 0,
	tech_tree TEXT NOT NULL DEFAULT '{}',
	ship_id INTEGER,
	pulse_laser INTEGER NOT NULL DEFAULT 0,
	auto_turret INTEGER NOT NULL DEFAULT 0,
	plasma_lance INTEGER NOT NULL DEFAULT 0,
	gauss_rifle INTEGER NOT NULL DEFAULT 0,
	photon_torpedo INTEGER NOT NULL DEFAULT 0,
	rocket_launcher INTEGER NOT NULL DEFAULT 0,
	ship_hull INTEGER NOT NULL DEFAULT 0,
	kinetic_armor INTEGER NOT NULL DEFAULT 0,
	energy_shield INTEGER NOT NULL DEFAULT 0,
	missile_jammer INTEGER NOT NULL DEFAULT 0,
	hull_current INTEGER NOT NULL DEFAULT 0,
	armor_current INTEGER NOT NULL DEFAULT 0,
	shield_current INTEGER NOT NULL DEFAULT 0,
	defense_last_regen INTEGER NOT NULL DEFAULT 0,
	in_battle INTEGER NOT NULL DEFAULT 0,
	current_battle_id INTEGER,
	build_queue TEXT NOT NULL DEFAULT '[]',
	inventory TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS space_objects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	speed REAL NOT NULL DEFAULT 0,
	angle REAL NOT NULL DEFAULT 0,
	last_position_update_ms INTEGER NOT NULL DEFAULT 0,
	picture_id INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS battles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	attacker_id INTEGER NOT NULL,
	attackee_id INTEGER NOT NULL,
	battle_start_time INTEGER NOT NULL,
	battle_end_time INTEGER,
	winner_id INTEGER,
	loser_id INTEGER,
	attacker_weapon_cooldowns TEXT NOT NULL DEFAULT '{}',
	attackee_weapon_cooldowns TEXT NOT NULL DEFAULT '{}',
	attacker_start_stats TEXT NOT NULL DEFAULT '{}',
	attackee_start_stats TEXT NOT NULL DEFAULT '{}',
	attacker_end_stats TEXT,
	attackee_end_stats TEXT,
	battle_log TEXT NOT NULL DEFAULT '[]',
	attacker_total_damage INTEGER NOT NULL DEFAULT 0,
	attackee_total_damage INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_battles_attacker ON battles(attacker_id);
CREATE INDEX IF NOT EXISTS idx_battles_attackee ON battles(attackee_id);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_id INTEGER NOT NULL,
	message TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id);
`

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeErr("open", err)
	}
	// One writer at a time keeps sqlite happy; the DB_* locks already
	// serialize writes per table above this layer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storeErr("create schema", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return storeErr("close", err)
	}
	return nil
}

// storeErr wraps a driver error into the shared taxonomy. sql.ErrNoRows
// becomes ErrNotFound; everything else is a StorageError.
func storeErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, game.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, game.ErrStorage)
}
