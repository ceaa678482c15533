// Package wire defines the JSON shapes shared by the REST API, the realtime
// push channel and the terminal client.
package wire

import (
	"time"

	"github.com/petadopt/petchat/internal/store"
)

// Push and control frame types.
const (
	EventNewMessage          = "new_message"
	EventMessageDeleted      = "message_deleted"
	EventConversationDeleted = "conversation_deleted"
	EventMessagesRead        = "messages_read"
	EventReady               = "ready"
	EventError               = "error"

	FrameAuth = "auth"
	FramePing = "ping"
	FramePong = "pong"
)

type Profile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         Profile   `json:"sender"`
	Text           string    `json:"text"`
	Read           bool      `json:"read"`
	ClientMsgID    string    `json:"clientMsgId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LastMessage is the preview attached to a conversation listing.
type LastMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID               string       `json:"id"`
	Participants     []Profile    `json:"participants"`
	OtherParticipant Profile      `json:"otherParticipant"`
	LastMessage      *LastMessage `json:"lastMessage"`
	UnreadCount      int          `json:"unreadCount"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Event is a server-to-client frame on the realtime channel.
type Event struct {
	Type           string   `json:"type"`
	Message        *Message `json:"message,omitempty"`
	ConversationID string   `json:"conversationId,omitempty"`
	MessageID      string   `json:"messageId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	Count          int64    `json:"count,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// ClientFrame is a client-to-server frame on the realtime channel.
type ClientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type CreateConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
}

type SendMessageRequest struct {
	Text        string `json:"text"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

type ErrorResponse struct {
	Msg string `json:"msg"`
}

func FromProfile(p store.Profile) Profile {
	return Profile{ID: p.ID, Name: p.Name, Email: p.Email, ProfilePicture: p.ProfilePicture}
}

func FromMessage(m store.Message, sender store.Profile) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         FromProfile(sender),
		Text:           m.Text,
		Read:           m.Read,
		ClientMsgID:    m.ClientMsgID,
		CreatedAt:      m.CreatedAt,
	}
}

func FromLastMessage(m *store.Message) *LastMessage {
	if m == nil {
		return nil
	}
	return &LastMessage{ID: m.ID, Text: m.Text, SenderID: m.SenderID, Read: m.Read, CreatedAt: m.CreatedAt}
}
