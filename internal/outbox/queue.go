// Package outbox queues the terminal client's outgoing messages and sends
// them with retries. Each entry keeps one client token for its whole life,
// so a retry after an ambiguous failure never stores the message twice.
package outbox

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/petadopt/petchat/internal/wire"
)

// Status of an outbox entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Entry is one queued message.
type Entry struct {
	ClientMsgID    string
	ConversationID string
	Text           string
	Status         Status
	Attempts       int
	Error          string
	ServerMsgID    string
	QueuedAt       time.Time
	NextAttempt    time.Time
}

// Queue is an in-memory outbox. Sent entries are dropped; failed ones stay
// until retried or discarded so their text is never lost.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{now: time.Now}
}

// Enqueue adds text for conversationID under a fresh client token.
func (q *Queue) Enqueue(conversationID, text string) Entry {
	now := q.now()
	e := &Entry{
		ClientMsgID:    uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		Status:         StatusPending,
		QueuedAt:       now,
		NextAttempt:    now,
	}
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	return *e
}

// Due marks every pending entry whose retry time has come as sending and
// returns them, oldest first.
func (q *Queue) Due() []Entry {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for _, e := range q.entries {
		if e.Status == StatusPending && !e.NextAttempt.After(now) {
			e.Status = StatusSending
			e.Attempts++
			out = append(out, *e)
		}
	}
	return out
}

// Sent removes the entry; the server copy replaces it.
func (q *Queue) Sent(clientMsgID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = slices.DeleteFunc(q.entries, func(e *Entry) bool { return e.ClientMsgID == clientMsgID })
}

// Requeue puts a sending entry back to pending until retryAt.
func (q *Queue) Requeue(clientMsgID string, cause error, retryAt time.Time) {
	q.update(clientMsgID, func(e *Entry) {
		e.Status = StatusPending
		e.Error = cause.Error()
		e.NextAttempt = retryAt
	})
}

// Fail parks the entry until the user retries or discards it.
func (q *Queue) Fail(clientMsgID string, cause error) {
	q.update(clientMsgID, func(e *Entry) {
		e.Status = StatusFailed
		e.Error = cause.Error()
	})
}

// Retry moves a failed entry back to pending, keeping its client token.
func (q *Queue) Retry(clientMsgID string) error {
	var err error
	found := q.update(clientMsgID, func(e *Entry) {
		if e.Status != StatusFailed {
			err = fmt.Errorf("entry %s is %s, not failed", clientMsgID, e.Status)
			return
		}
		e.Status = StatusPending
		e.Attempts = 0
		e.NextAttempt = q.now()
	})
	if !found {
		return fmt.Errorf("entry %s not found", clientMsgID)
	}
	return err
}

// Discard drops an entry regardless of state.
func (q *Queue) Discard(clientMsgID string) {
	q.Sent(clientMsgID)
}

// ForConversation returns the unsent entries of one conversation.
func (q *Queue) ForConversation(conversationID string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for _, e := range q.entries {
		if e.ConversationID == conversationID {
			out = append(out, *e)
		}
	}
	return out
}

// LastFailed returns the most recently queued failed entry of a
// conversation.
func (q *Queue) LastFailed(conversationID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.entries) - 1; i >= 0; i-- {
		if e := q.entries[i]; e.ConversationID == conversationID && e.Status == StatusFailed {
			return *e, true
		}
	}
	return Entry{}, false
}

func (q *Queue) update(clientMsgID string, fn func(*Entry)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ClientMsgID == clientMsgID {
			fn(e)
			return true
		}
	}
	return false
}

// SendResult is the payload of outbox.send_ack.
type SendResult struct {
	ClientMsgID    string
	ConversationID string
	Message        wire.Message
}

// SendFailure is the payload of outbox.send_failed.
type SendFailure struct {
	ClientMsgID    string
	ConversationID string
	Error          string
}
