package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert hits a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// ConversationStore persists conversations.
type ConversationStore interface {
	// InsertConversation returns ErrConflict when the pair already has one.
	InsertConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindConversationByPair(ctx context.Context, a, b string) (*Conversation, error)
	// ListConversationsForUser returns conversations sorted by UpdatedAt, newest first.
	ListConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)
	// AdvanceLastMessage points the conversation at m and bumps UpdatedAt,
	// unless the current pointer already sorts after m.
	AdvanceLastMessage(ctx context.Context, conversationID string, m *Message) error
	// SwapLastMessage sets the pointer to next only if it still equals
	// expected. Reports whether the swap happened.
	SwapLastMessage(ctx context.Context, conversationID, expected, next string) (bool, error)
	// DeleteConversation removes the conversation's messages, then the
	// conversation itself.
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore persists messages.
type MessageStore interface {
	// InsertMessage returns ErrConflict on a duplicate client token and
	// ErrNotFound when the conversation is gone.
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessages(ctx context.Context, ids []string) (map[string]Message, error)
	FindMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*Message, error)
	// ListMessages returns the conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	// LatestMessage returns ErrNotFound when the conversation has no messages.
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	// MarkRead flags every unread message not sent by readerID as read.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
	// CountUnread returns, per conversation, how many messages userID has not read.
	CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
}

// ProfileStore reads (and, for seeding, writes) user profile records.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p *Profile) error
	GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)
}

// Store is the full persistence surface used by the messaging services.
type Store interface {
	ConversationStore
	MessageStore
	ProfileStore
	Ping(ctx context.Context) error
	Close() error
}
