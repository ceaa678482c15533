package wire

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/petadopt/petchat/internal/store"
)

// TestNewMessageFrameShape pins the push frame field names clients depend on.
func TestNewMessageFrameShape(t *testing.T) {
	m := FromMessage(store.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Text:           "is the puppy still available?",
		CreatedAt:      time.UnixMilli(1_700_000_000_000).UTC(),
	}, store.Profile{ID: "u1", Name: "Ana"})

	data, err := json.Marshal(Event{Type: EventNewMessage, Message: &m})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"type":"new_message"`, `"conversationId":"c1"`, `"sender":{"id":"u1","name":"Ana"}`, `"createdAt":"2023-11-14T22:13:20Z"`} {
		if !strings.Contains(s, want) {
			t.Errorf("frame %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "clientMsgId") {
		t.Errorf("frame %s carries empty clientMsgId", s)
	}
}

func TestFromLastMessageNil(t *testing.T) {
	if FromLastMessage(nil) != nil {
		t.Error("FromLastMessage(nil) != nil")
	}
	lm := FromLastMessage(&store.Message{ID: "m1", SenderID: "u1", Text: "hi"})
	if lm.SenderID != "u1" || lm.Text != "hi" {
		t.Errorf("FromLastMessage() = %+v", lm)
	}
}
