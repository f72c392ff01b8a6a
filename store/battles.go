package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ironstar-game/ironstar/game"
)

const battleColumns = `id, attacker_id, attackee_id, battle_start_time, battle_end_time,
	winner_id, loser_id, attacker_weapon_cooldowns, attackee_weapon_cooldowns,
	attacker_start_stats, attackee_start_stats, attacker_end_stats, attackee_end_stats,
	battle_log, attacker_total_damage, attackee_total_damage`

func scanBattle(row rowScanner) (*game.Battle, error) {
	b := &game.Battle{}
	var (
		endTime       sql.NullInt64
		winnerID      sql.NullInt64
		loserID       sql.NullInt64
		attackerCDs   string
		attackeeCDs   string
		attackerStart string
		attackeeStart string
		attackerEnd   sql.NullString
		attackeeEnd   sql.NullString
		log           string
	)
	err := row.Scan(
		&b.ID, &b.AttackerID, &b.AttackeeID, &b.StartTime, &endTime,
		&winnerID, &loserID, &attackerCDs, &attackeeCDs,
		&attackerStart, &attackeeStart, &attackerEnd, &attackeeEnd,
		&log, &b.AttackerTotalDamage, &b.AttackeeTotalDamage,
	)
	if err != nil {
		return nil, err
	}
	b.EndTime = endTime.Int64
	b.WinnerID = winnerID.Int64
	b.LoserID = loserID.Int64
	if err := json.Unmarshal([]byte(attackerCDs), &b.AttackerCooldowns); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attackeeCDs), &b.AttackeeCooldowns); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attackerStart), &b.AttackerStartStats); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attackeeStart), &b.AttackeeStartStats); err != nil {
		return nil, err
	}
	if attackerEnd.Valid {
		if err := json.Unmarshal([]byte(attackerEnd.String), &b.AttackerEndStats); err != nil {
			return nil, err
		}
	}
	if attackeeEnd.Valid {
		if err := json.Unmarshal([]byte(attackeeEnd.String), &b.AttackeeEndStats); err != nil {
			return nil, err
		}
	}
	if err := json.Unmarshal([]byte(log), &b.Log); err != nil {
		return nil, err
	}
	if b.AttackerCooldowns == nil {
		b.AttackerCooldowns = make(map[string]int64)
	}
	if b.AttackeeCooldowns == nil {
		b.AttackeeCooldowns = make(map[string]int64)
	}
	return b, nil
}

func battleArgs(b *game.Battle) ([]any, error) {
	attackerCDs, err := json.Marshal(b.AttackerCooldowns)
	if err != nil {
		return nil, err
	}
	attackeeCDs, err := json.Marshal(b.AttackeeCooldowns)
	if err != nil {
		return nil, err
	}
	attackerStart, err := json.Marshal(b.AttackerStartStats)
	if err != nil {
		return nil, err
	}
	attackeeStart, err := json.Marshal(b.AttackeeStartStats)
	if err != nil {
		return nil, err
	}
	var attackerEnd, attackeeEnd sql.NullString
	if b.AttackerEndStats != nil {
		raw, err := json.Marshal(b.AttackerEndStats)
		if err != nil {
			return nil, err
		}
		attackerEnd = sql.NullString{String: string(raw), Valid: true}
	}
	if b.AttackeeEndStats != nil {
		raw, err := json.Marshal(b.AttackeeEndStats)
		if err != nil {
			return nil, err
		}
		attackeeEnd = sql.NullString{String: string(raw), Valid: true}
	}
	log := b.Log
	if log == nil {
		log = []game.BattleEvent{}
	}
	logRaw, err := json.Marshal(log)
	if err != nil {
		return nil, err
	}
	return []any{
		b.AttackerID, b.AttackeeID, b.StartTime, nullable(b.EndTime),
		nullable(b.WinnerID), nullable(b.LoserID),
		string(attackerCDs), string(attackeeCDs),
		string(attackerStart), string(attackeeStart),
		attackerEnd, attackeeEnd,
		string(logRaw), b.AttackerTotalDamage, b.AttackeeTotalDamage,
	}, nil
}

// InsertBattle creates a battle row and fills in the assigned id.
func (s *Store) InsertBattle(ctx context.Context, b *game.Battle) error {
	args, err := battleArgs(b)
	if err != nil {
		return storeErr("encode battle", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO battles (
		attacker_id, attackee_id, battle_start_time, battle_end_time,
		winner_id, loser_id, attacker_weapon_cooldowns, attackee_weapon_cooldowns,
		attacker_start_stats, attackee_start_stats, attacker_end_stats, attackee_end_stats,
		battle_log, attacker_total_damage, attackee_total_damage
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return storeErr("insert battle", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("insert battle", err)
	}
	b.ID = id
	return nil
}

// UpdateBattle writes all mutable columns of one battle row.
func (s *Store) UpdateBattle(ctx context.Context, b *game.Battle) error {
	args, err := battleArgs(b)
	if err != nil {
		return storeErr("encode battle", err)
	}
	args = append(args, b.ID)
	_, err = s.db.ExecContext(ctx, `UPDATE battles SET
		attacker_id=?, attackee_id=?, battle_start_time=?, battle_end_time=?,
		winner_id=?, loser_id=?, attacker_weapon_cooldowns=?, attackee_weapon_cooldowns=?,
		attacker_start_stats=?, attackee_start_stats=?, attacker_end_stats=?, attackee_end_stats=?,
		battle_log=?, attacker_total_damage=?, attackee_total_damage=?
	WHERE id=?`, args...)
	if err != nil {
		return storeErr("update battle", err)
	}
	return nil
}

// GetBattle loads one battle row by id.
func (s *Store) GetBattle(ctx context.Context, id int64) (*game.Battle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+battleColumns+` FROM battles WHERE id=?`, id)
	b, err := scanBattle(row)
	if err != nil {
		return nil, storeErr("get battle", err)
	}
	return b, nil
}

// GetActiveBattleForUser returns the user's ongoing battle, on either side.
func (s *Store) GetActiveBattleForUser(ctx context.Context, userID int64) (*game.Battle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+battleColumns+` FROM battles
		WHERE battle_end_time IS NULL AND (attacker_id=? OR attackee_id=?)`,
		userID, userID)
	b, err := scanBattle(row)
	if err != nil {
		return nil, storeErr("get active battle", err)
	}
	return b, nil
}

// GetBattlesForUser returns the user's battle history, newest first.
func (s *Store) GetBattlesForUser(ctx context.Context, userID int64, limit int) ([]*game.Battle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+battleColumns+` FROM battles
		WHERE attacker_id=? OR attackee_id=?
		ORDER BY battle_start_time DESC, id DESC LIMIT ?`,
		userID, userID, limit)
	if err != nil {
		return nil, storeErr("get battles for user", err)
	}
	defer rows.Close()

	var battles []*game.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, storeErr("scan battle", err)
		}
		battles = append(battles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get battles for user", err)
	}
	return battles, nil
}
