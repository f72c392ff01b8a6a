package store

import (
	"context"

	"github.com/ironstar-game/ironstar/game"
)

// LoadSpaceObjects reads every world object. Player ships get their owner's
// username and battle flag joined in so the world cache never has to reach
// into the user table.
func (s *Store) LoadSpaceObjects(ctx context.Context) ([]*game.SpaceObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.type, o.x, o.y, o.speed, o.angle, o.last_position_update_ms,
		       o.picture_id, COALESCE(u.username, ''), COALESCE(u.in_battle, 0)
		FROM space_objects o
		LEFT JOIN users u ON u.ship_id = o.id AND o.type = ?
		ORDER BY o.id`, game.ObjectPlayerShip)
	if err != nil {
		return nil, storeErr("load space objects", err)
	}
	defer rows.Close()

	var objects []*game.SpaceObject
	for rows.Next() {
		o := &game.SpaceObject{}
		err := rows.Scan(&o.ID, &o.Type, &o.X, &o.Y, &o.Speed, &o.Angle,
			&o.LastPositionUpdateMs, &o.PictureID, &o.Username, &o.InBattle)
		if err != nil {
			return nil, storeErr("scan space object", err)
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load space objects", err)
	}
	return objects, nil
}

// InsertSpaceObject creates an object row and fills in the assigned id.
func (s *Store) InsertSpaceObject(ctx context.Context, o *game.SpaceObject) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO space_objects
		(type, x, y, speed, angle, last_position_update_ms, picture_id)
		VALUES (?,?,?,?,?,?,?)`,
		o.Type, o.X, o.Y, o.Speed, o.Angle, o.LastPositionUpdateMs, o.PictureID)
	if err != nil {
		return storeErr("insert space object", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("insert space object", err)
	}
	o.ID = id
	return nil
}

// UpdateSpaceObject writes the kinematic columns of one object row.
func (s *Store) UpdateSpaceObject(ctx context.Context, o *game.SpaceObject) error {
	_, err := s.db.ExecContext(ctx, `UPDATE space_objects SET
		type=?, x=?, y=?, speed=?, angle=?, last_position_update_ms=?, picture_id=?
		WHERE id=?`,
		o.Type, o.X, o.Y, o.Speed, o.Angle, o.LastPositionUpdateMs, o.PictureID, o.ID)
	if err != nil {
		return storeErr("update space object", err)
	}
	return nil
}

// DeleteSpaceObject removes one object row.
func (s *Store) DeleteSpaceObject(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM space_objects WHERE id=?`, id)
	if err != nil {
		return storeErr("delete space object", err)
	}
	return nil
}
