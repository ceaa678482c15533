package mongostore

import (
	"time"

	"github.com/petadopt/petchat/internal/store"
)

type conversationDoc struct {
	ID            string    `bson:"_id"`
	Participants  []string  `bson:"participants"`
	PairKey       string    `bson:"pair_key"`
	LastMessageID *string   `bson:"last_message_id"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func toConversationDoc(c *store.Conversation) conversationDoc {
	pair := store.NormalizePair(c.Participants[0], c.Participants[1])
	return conversationDoc{
		ID:            c.ID,
		Participants:  []string{pair[0], pair[1]},
		PairKey:       store.PairKey(pair),
		LastMessageID: optional(c.LastMessageID),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func (d *conversationDoc) toStore() *store.Conversation {
	c := &store.Conversation{
		ID:        d.ID,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if len(d.Participants) == 2 {
		c.Participants = store.NormalizePair(d.Participants[0], d.Participants[1])
	}
	if d.LastMessageID != nil {
		c.LastMessageID = *d.LastMessageID
	}
	return c
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Text           string    `bson:"text"`
	Read           bool      `bson:"read"`
	ClientMsgID    string    `bson:"client_msg_id,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toMessageDoc(m *store.Message) messageDoc {
	return messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Read:           m.Read,
		ClientMsgID:    m.ClientMsgID,
		CreatedAt:      m.CreatedAt,
	}
}

func (d *messageDoc) toStore() store.Message {
	return store.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Text:           d.Text,
		Read:           d.Read,
		ClientMsgID:    d.ClientMsgID,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

// userDoc mirrors the user subsystem's documents; only public fields are read.
type userDoc struct {
	ID             string `bson:"_id"`
	Name           string `bson:"name"`
	Email          string `bson:"email"`
	ProfilePicture string `bson:"profilePicture"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
