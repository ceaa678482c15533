package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const conversationColumns = `id, user_a, user_b, last_message_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                    Conversation
		lastMsg              sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &lastMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.LastMessageID = lastMsg.String
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

// InsertConversation inserts c. The UNIQUE(user_a, user_b) constraint turns a
// concurrent create for the same pair into ErrConflict.
func (db *DB) InsertConversation(ctx context.Context, c *Conversation) error {
	pair := NormalizePair(c.Participants[0], c.Participants[1])
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_a, user_b, last_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, pair[0], pair[1], nullString(c.LastMessageID), c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	c.Participants = pair
	return nil
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// FindConversationByPair returns the conversation between a and b in either order.
func (db *DB) FindConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	pair := NormalizePair(a, b)
	c, err := scanConversation(db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_a = ? AND user_b = ?`, pair[0], pair[1]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListConversationsForUser returns every conversation userID takes part in,
// most recently updated first.
func (db *DB) ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_a = ? OR user_b = ?
		ORDER BY updated_at DESC, id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// AdvanceLastMessage moves the last-message pointer forward to m. A pointer
// that already references a later message is left alone.
func (db *DB) AdvanceLastMessage(ctx context.Context, conversationID string, m *Message) error {
	at := m.CreatedAt.UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, updated_at = ?
		WHERE id = ?
		  AND (updated_at < ?
		       OR (updated_at = ? AND (last_message_id IS NULL OR last_message_id < ?)))`,
		m.ID, at, conversationID, at, at, m.ID)
	return err
}

// SwapLastMessage is a compare-and-set on last_message_id. Empty strings
// stand for NULL on both sides.
func (db *DB) SwapLastMessage(ctx context.Context, conversationID, expected, next string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = ?
		WHERE id = ? AND last_message_id IS ?`,
		nullString(next), conversationID, nullString(expected))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteConversation deletes the conversation's messages and then the
// conversation in one transaction.
func (db *DB) DeleteConversation(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
