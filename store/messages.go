package store

import (
	"context"

	"github.com/ironstar-game/ironstar/game"
)

// InsertMessage creates a message row and fills in the assigned id.
func (s *Store) InsertMessage(ctx context.Context, m *game.Message) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(recipient_id, message, created_at, is_read) VALUES (?,?,?,?)`,
		m.RecipientID, m.Text, m.CreatedAt, m.IsRead)
	if err != nil {
		return storeErr("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("insert message", err)
	}
	m.ID = id
	return nil
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]*game.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var msgs []*game.Message
	for rows.Next() {
		m := &game.Message{}
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.Text, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, storeErr(op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return msgs, nil
}

// GetMessages returns the recipient's messages, newest first, up to limit.
func (s *Store) GetMessages(ctx context.Context, recipientID int64, limit int) ([]*game.Message, error) {
	return s.queryMessages(ctx, "get messages", `
		SELECT id, recipient_id, message, created_at, is_read FROM messages
		WHERE recipient_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		recipientID, limit)
}

// GetUnreadMessages returns the recipient's unread messages, oldest first.
func (s *Store) GetUnreadMessages(ctx context.Context, recipientID int64) ([]*game.Message, error) {
	return s.queryMessages(ctx, "get unread messages", `
		SELECT id, recipient_id, message, created_at, is_read FROM messages
		WHERE recipient_id=? AND is_read=0 ORDER BY created_at ASC, id ASC`,
		recipientID)
}

// SetMessageRead sets one message's read flag.
func (s *Store) SetMessageRead(ctx context.Context, id int64, read bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read=? WHERE id=?`, read, id)
	if err != nil {
		return storeErr("set message read", err)
	}
	return nil
}

// MarkMessagesRead flags a batch of messages as read in one transaction.
func (s *Store) MarkMessagesRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("mark messages read", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE messages SET is_read=1 WHERE id=?`)
	if err != nil {
		tx.Rollback()
		return storeErr("mark messages read", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return storeErr("mark messages read", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("mark messages read", err)
	}
	return nil
}

// MarkAllMessagesRead flags every message for a recipient as read.
func (s *Store) MarkAllMessagesRead(ctx context.Context, recipientID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read=1 WHERE recipient_id=?`, recipientID)
	if err != nil {
		return storeErr("mark all messages read", err)
	}
	return nil
}

// DeleteOldReadMessages removes read messages created before cutoff and
// returns how many were deleted.
func (s *Store) DeleteOldReadMessages(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE is_read=1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, storeErr("delete old messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete old messages", err)
	}
	return n, nil
}
