package store

import "time"

// Conversation is a two-party thread. Participants are kept normalized
// (Participants[0] < Participants[1]) so the pair maps to exactly one row.
type Conversation struct {
	ID            string
	Participants  [2]string
	LastMessageID string // empty when the conversation has no messages
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Has reports whether userID is one of the two participants.
func (c *Conversation) Has(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Message is a single text message owned by one conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	Read           bool
	ClientMsgID    string // optional sender-chosen dedup token
	CreatedAt      time.Time
}

// Before reports whether m sorts before o in (CreatedAt, ID) order.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Profile is the public slice of a user record owned by the user subsystem.
type Profile struct {
	ID             string
	Name           string
	Email          string
	ProfilePicture string
}

// NormalizePair orders two user ids so the smaller one comes first.
func NormalizePair(a, b string) [2]string {
	if b < a {
		return [2]string{b, a}
	}
	return [2]string{a, b}
}

// PairKey is the single-string form of a normalized pair.
func PairKey(p [2]string) string {
	return p[0] + "|" + p[1]
}
