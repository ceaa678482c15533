package model

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/petadopt/petchat/internal/wire"
)

// API is the subset of the daemon client the view model drives.
type API interface {
	ListConversations(ctx context.Context) ([]wire.Conversation, error)
	StartConversation(ctx context.Context, otherUserID string) (*wire.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]wire.Message, error)
	MarkRead(ctx context.Context, conversationID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ViewModel holds what the screens render. Fetch failures leave the loaded
// state untouched; pushes are merged by message id so a push racing a fetch
// never duplicates a message.
type ViewModel struct {
	mu sync.RWMutex

	api                  API
	userID               string
	connected            bool
	conversations        []wire.Conversation
	messages             []wire.Message
	activeConversationID string
	Flash                Flash
}

// NewViewModel creates a new view model backed by the daemon client.
func NewViewModel(api API) *ViewModel {
	return &ViewModel{api: api}
}

// LoadConversations fetches the conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	convs, err := vm.api.ListConversations(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
	return nil
}

// OpenConversation makes conversationID active, loads its messages and
// marks them read. The previous conversation stays active if loading fails.
func (vm *ViewModel) OpenConversation(ctx context.Context, conversationID string) error {
	msgs, err := vm.api.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activeConversationID = conversationID
	vm.messages = mergeMessages(nil, msgs...)
	vm.mu.Unlock()

	if _, err := vm.api.MarkRead(ctx, conversationID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.setUnreadLocked(conversationID, 0)
	vm.mu.Unlock()
	return nil
}

// CloseConversation leaves the thread view.
func (vm *ViewModel) CloseConversation() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.activeConversationID = ""
	vm.messages = nil
}

// StartConversation gets or creates the conversation with otherUserID and
// puts it in the list.
func (vm *ViewModel) StartConversation(ctx context.Context, otherUserID string) (*wire.Conversation, error) {
	conv, err := vm.api.StartConversation(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	vm.mu.Lock()
	if i := vm.conversationIndexLocked(conv.ID); i >= 0 {
		vm.conversations[i] = *conv
	} else {
		vm.conversations = append([]wire.Conversation{*conv}, vm.conversations...)
	}
	vm.mu.Unlock()
	return conv, nil
}

// DeleteMessage deletes one of the user's own messages.
func (vm *ViewModel) DeleteMessage(ctx context.Context, messageID string) error {
	if err := vm.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.messages = slices.DeleteFunc(vm.messages, func(m wire.Message) bool { return m.ID == messageID })
	vm.mu.Unlock()
	return nil
}

// DeleteConversation deletes a conversation for both participants.
func (vm *ViewModel) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := vm.api.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.removeConversationLocked(conversationID)
	vm.mu.Unlock()
	return nil
}

// ApplySent merges the server copy of a message this client sent.
func (vm *ViewModel) ApplySent(m wire.Message) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.applyMessageLocked(m, false)
}

// ApplyEvent merges a push frame. It reports whether the conversation list
// should be refetched because the push referenced an unknown conversation.
func (vm *ViewModel) ApplyEvent(ev wire.Event) (reload bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	switch ev.Type {
	case wire.EventReady:
		vm.userID = ev.UserID
	case wire.EventNewMessage:
		if ev.Message == nil {
			return false
		}
		return !vm.applyMessageLocked(*ev.Message, true)
	case wire.EventMessageDeleted:
		if ev.ConversationID == vm.activeConversationID {
			vm.messages = slices.DeleteFunc(vm.messages, func(m wire.Message) bool { return m.ID == ev.MessageID })
		}
		// The preview may have pointed at the deleted message.
		return true
	case wire.EventConversationDeleted:
		vm.removeConversationLocked(ev.ConversationID)
	case wire.EventMessagesRead:
		if ev.ConversationID == vm.activeConversationID {
			for i := range vm.messages {
				if vm.messages[i].Sender.ID != ev.UserID {
					vm.messages[i].Read = true
				}
			}
		}
	}
	return false
}

// applyMessageLocked merges m into the thread and the list preview. It
// returns false when the conversation is not in the list.
func (vm *ViewModel) applyMessageLocked(m wire.Message, incoming bool) bool {
	if m.ConversationID == vm.activeConversationID {
		vm.messages = mergeMessages(vm.messages, m)
	}
	i := vm.conversationIndexLocked(m.ConversationID)
	if i < 0 {
		return false
	}
	conv := vm.conversations[i]
	if conv.LastMessage == nil || !m.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		conv.LastMessage = &wire.LastMessage{ID: m.ID, Text: m.Text, SenderID: m.Sender.ID, Read: m.Read, CreatedAt: m.CreatedAt}
		if m.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = m.CreatedAt
		}
	}
	if incoming && m.ConversationID != vm.activeConversationID {
		conv.UnreadCount++
	}
	vm.conversations[i] = conv
	slices.SortStableFunc(vm.conversations, func(a, b wire.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return true
}

func (vm *ViewModel) conversationIndexLocked(id string) int {
	return slices.IndexFunc(vm.conversations, func(c wire.Conversation) bool { return c.ID == id })
}

func (vm *ViewModel) setUnreadLocked(id string, n int) {
	if i := vm.conversationIndexLocked(id); i >= 0 {
		vm.conversations[i].UnreadCount = n
	}
}

func (vm *ViewModel) removeConversationLocked(id string) {
	vm.conversations = slices.DeleteFunc(vm.conversations, func(c wire.Conversation) bool { return c.ID == id })
	if vm.activeConversationID == id {
		vm.activeConversationID = ""
		vm.messages = nil
	}
}

// mergeMessages adds incoming to existing, replacing entries with the same
// id, and keeps the result ordered by (createdAt, id).
func mergeMessages(existing []wire.Message, incoming ...wire.Message) []wire.Message {
	out := slices.Clone(existing)
	for _, m := range incoming {
		if i := slices.IndexFunc(out, func(x wire.Message) bool { return x.ID == m.ID }); i >= 0 {
			out[i] = m
			continue
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b wire.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// SetConnected records the realtime connection state.
func (vm *ViewModel) SetConnected(connected bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.connected = connected
}

func (vm *ViewModel) Connected() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.connected
}

// UserID is the identity confirmed by the realtime channel.
func (vm *ViewModel) UserID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.userID
}

// ActiveConversationID returns the open thread, or "".
func (vm *ViewModel) ActiveConversationID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeConversationID
}

// Conversations returns a snapshot of the conversation list.
func (vm *ViewModel) Conversations() []wire.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.conversations)
}

// Conversation returns one listed conversation.
func (vm *ViewModel) Conversation(id string) (wire.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if i := vm.conversationIndexLocked(id); i >= 0 {
		return vm.conversations[i], true
	}
	return wire.Conversation{}, false
}

// Messages returns a snapshot of the open thread.
func (vm *ViewModel) Messages() []wire.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.messages)
}
