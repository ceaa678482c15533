package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const messageColumns = `id, conversation_id, sender_id, body, read, client_msg_id, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m         Message
		clientID  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Read, &clientID, &createdAt); err != nil {
		return nil, err
	}
	m.ClientMsgID = clientID.String
	m.CreatedAt = fromMillis(createdAt)
	return &m, nil
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// InsertMessage stores m. A repeated (conversation, sender, client token)
// yields ErrConflict; a missing conversation yields ErrNotFound.
func (db *DB) InsertMessage(ctx context.Context, m *Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, read, client_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.Read, nullString(m.ClientMsgID), m.CreatedAt.UnixMilli())
	switch {
	case isUniqueViolation(err):
		return ErrConflict
	case isForeignKeyViolation(err):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetMessages returns the messages with the given ids, keyed by id. Unknown
// ids are omitted.
func (db *DB) GetMessages(ctx context.Context, ids []string) (map[string]Message, error) {
	out := make(map[string]Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	msgs, err := db.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// FindMessageByClientID looks up a message by the sender's dedup token.
func (db *DB) FindMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND client_msg_id = ?`,
		conversationID, senderID, clientMsgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListMessages returns all messages of a conversation in (created_at, id) order.
func (db *DB) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
}

// LatestMessage returns the newest message of a conversation.
func (db *DB) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// DeleteMessage removes a single message.
func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRead flags the other participant's unread messages as read.
func (db *DB) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id != ? AND read = 0`,
		conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread counts messages not sent by userID that are still unread.
func (db *DB) CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	in, args := inClause(conversationIDs)
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE conversation_id IN (`+in+`) AND sender_id != ? AND read = 0
		GROUP BY conversation_id`, append(args, userID)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
