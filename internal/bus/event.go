package bus

import "time"

// Event kinds published by the messaging and presence layers.
const (
	KindMessageCreated      = "message.created"
	KindMessageDeleted      = "message.deleted"
	KindMessagesRead        = "message.read"
	KindConversationCreated = "conversation.created"
	KindConversationDeleted = "conversation.deleted"
	KindConnectionState     = "connection.state_changed"
)

// Event kinds published by the terminal client's outbox.
const (
	KindSendAck    = "outbox.send_ack"
	KindSendFailed = "outbox.send_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageEvent is the payload for message.* events.
type MessageEvent struct {
	ConversationID string
	MessageID      string
	SenderID       string
	RecipientID    string
	Count          int
}

// ConversationEvent is the payload for conversation.* events.
type ConversationEvent struct {
	ConversationID string
	ActorID        string
	OtherID        string
}
