package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/store"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap"
)

const maxClientMsgIDLength = 128

// MessageView is a message together with its sender's public profile.
type MessageView struct {
	Message store.Message
	Sender  store.Profile
}

// MessageService sends and deletes messages.
type MessageService struct {
	deps
}

// NewMessageService creates a MessageService.
func NewMessageService(st store.Store, pusher Pusher, b *bus.Bus, logger *zap.Logger, opts Options) *MessageService {
	return &MessageService{deps: newDeps(st, pusher, b, logger, opts)}
}

// Send stores a message from senderID and notifies the other participant.
// A non-empty clientMsgID makes the call idempotent: repeating it returns
// the message stored by the first call.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, text, clientMsgID string) (*MessageView, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return nil, invalid("text is required")
	case utf8.RuneCountInString(text) > s.maxText:
		return nil, invalid("text exceeds %d characters", s.maxText)
	case len(clientMsgID) > maxClientMsgIDLength:
		return nil, invalid("clientMsgId exceeds %d bytes", maxClientMsgIDLength)
	}

	conv, err := s.participantConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	if clientMsgID != "" {
		if existing, err := s.byClientID(ctx, conv.ID, senderID, clientMsgID); err == nil {
			return s.resend(ctx, conv, existing)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, storeErr("find message by client id", err)
		}
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	// Never stamp a message earlier than the conversation's latest activity,
	// so (createdAt, id) order matches acceptance order within a conversation.
	createdAt := s.timestamp()
	if createdAt.Before(conv.UpdatedAt) {
		createdAt = conv.UpdatedAt
	}
	m := &store.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           text,
		ClientMsgID:    clientMsgID,
		CreatedAt:      createdAt,
	}

	opCtx, cancel := s.op(ctx)
	err = s.store.InsertMessage(opCtx, m)
	cancel()
	switch {
	case errors.Is(err, store.ErrConflict) && clientMsgID != "":
		existing, err := s.byClientID(ctx, conv.ID, senderID, clientMsgID)
		if err != nil {
			return nil, storeErr("refetch message", err)
		}
		return s.resend(ctx, conv, existing)
	case err != nil:
		return nil, storeErr("insert message", err)
	}

	if err := s.advance(ctx, conv.ID, m); err != nil {
		return nil, err
	}

	sender := s.profiles(ctx, senderID)[senderID]
	recipient := conv.Other(senderID)
	s.logger.Debug("message sent",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", m.ID),
		zap.String("sender", senderID))
	s.publish(bus.KindMessageCreated, bus.MessageEvent{
		ConversationID: conv.ID,
		MessageID:      m.ID,
		SenderID:       senderID,
		RecipientID:    recipient,
	})

	payload := wire.FromMessage(*m, sender)
	s.push(ctx, recipient, wire.Event{Type: wire.EventNewMessage, Message: &payload})

	return &MessageView{Message: *m, Sender: sender}, nil
}

func (s *MessageService) byClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*store.Message, error) {
	opCtx, cancel := s.op(ctx)
	defer cancel()
	return s.store.FindMessageByClientID(opCtx, conversationID, senderID, clientMsgID)
}

// resend answers a retried send. The pointer update is repeated because the
// first attempt may have failed after the insert.
func (s *MessageService) resend(ctx context.Context, conv *store.Conversation, m *store.Message) (*MessageView, error) {
	if err := s.advance(ctx, conv.ID, m); err != nil {
		return nil, err
	}
	sender := s.profiles(ctx, m.SenderID)[m.SenderID]
	return &MessageView{Message: *m, Sender: sender}, nil
}

func (s *MessageService) advance(ctx context.Context, conversationID string, m *store.Message) error {
	opCtx, cancel := s.op(ctx)
	defer cancel()
	if err := s.store.AdvanceLastMessage(opCtx, conversationID, m); err != nil {
		return storeErr("update last message", err)
	}
	return nil
}

// Delete removes a message. Only its sender may delete it.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID string) error {
	if messageID == "" {
		return invalid("message id is required")
	}

	opCtx, cancel := s.op(ctx)
	m, err := s.store.GetMessage(opCtx, messageID)
	cancel()
	if err != nil {
		return storeErr("get message", err)
	}
	if m.SenderID != requesterID {
		return fmt.Errorf("%w: only the sender can delete message %s", ErrForbidden, messageID)
	}

	opCtx, cancel = s.op(ctx)
	err = s.store.DeleteMessage(opCtx, m.ID)
	cancel()
	if err != nil {
		return storeErr("delete message", err)
	}

	conv, refreshErr := s.refreshLastMessage(ctx, m.ConversationID)
	if conv != nil {
		recipient := conv.Other(requesterID)
		s.publish(bus.KindMessageDeleted, bus.MessageEvent{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			SenderID:       requesterID,
			RecipientID:    recipient,
		})
		s.push(ctx, recipient, wire.Event{Type: wire.EventMessageDeleted, ConversationID: m.ConversationID, MessageID: m.ID})
	}
	if refreshErr != nil {
		// The row is gone but the pointer may still name it. Reads of the
		// conversation repair it; the caller must not treat this as done.
		s.logger.Warn("last message recompute failed",
			zap.Error(refreshErr),
			zap.String("conversation_id", m.ConversationID),
			zap.String("deleted_message_id", m.ID))
		if errors.Is(refreshErr, context.Canceled) {
			return refreshErr
		}
		return fmt.Errorf("%w: recompute last message of %s: %w", ErrUnavailable, m.ConversationID, refreshErr)
	}
	return nil
}

const refreshAttempts = 3

// refreshLastMessage points the conversation at its newest remaining
// message, or at nothing. The swap only applies if the pointer is unchanged
// since it was read; a concurrent send that moved it wins and the loop
// re-checks.
func (d *deps) refreshLastMessage(ctx context.Context, conversationID string) (*store.Conversation, error) {
	var conv *store.Conversation
	for range refreshAttempts {
		opCtx, cancel := d.op(ctx)
		c, err := d.store.GetConversation(opCtx, conversationID)
		if err != nil {
			cancel()
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return conv, err
		}
		conv = c

		next := ""
		latest, err := d.store.LatestMessage(opCtx, conversationID)
		switch {
		case err == nil:
			next = latest.ID
		case !errors.Is(err, store.ErrNotFound):
			cancel()
			return conv, err
		}
		if conv.LastMessageID == next {
			cancel()
			return conv, nil
		}

		swapped, err := d.store.SwapLastMessage(opCtx, conversationID, conv.LastMessageID, next)
		cancel()
		if err != nil {
			return conv, err
		}
		if swapped {
			conv.LastMessageID = next
			return conv, nil
		}
	}
	return conv, fmt.Errorf("last message pointer kept moving after %d attempts", refreshAttempts)
}
