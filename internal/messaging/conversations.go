package messaging

import (
	"context"
	"errors"
	"strings"

	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/store"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap"
)

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	Conversation store.Conversation
	Participants [2]store.Profile
	Other        store.Profile
	LastMessage  *store.Message
	UnreadCount  int
}

// ConversationService manages conversation lifecycle and reads.
type ConversationService struct {
	deps
}

// NewConversationService creates a ConversationService.
func NewConversationService(st store.Store, pusher Pusher, b *bus.Bus, logger *zap.Logger, opts Options) *ConversationService {
	return &ConversationService{deps: newDeps(st, pusher, b, logger, opts)}
}

// ListForUser returns every conversation userID takes part in, most
// recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]ConversationView, error) {
	opCtx, cancel := s.op(ctx)
	convs, err := s.store.ListConversationsForUser(opCtx, userID)
	cancel()
	if err != nil {
		return nil, storeErr("list conversations", err)
	}
	return s.views(ctx, userID, convs)
}

// Get returns a single conversation for one of its participants.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*ConversationView, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.views(ctx, userID, []store.Conversation{*conv})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// GetOrCreate returns the conversation between userID and otherUserID,
// creating it on first use. created reports whether this call created it.
func (s *ConversationService) GetOrCreate(ctx context.Context, userID, otherUserID string) (view *ConversationView, created bool, err error) {
	otherUserID = strings.TrimSpace(otherUserID)
	switch {
	case otherUserID == "":
		return nil, false, invalid("otherUserId is required")
	case otherUserID == userID:
		return nil, false, invalid("cannot start a conversation with yourself")
	}

	conv, err := s.findPair(ctx, userID, otherUserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, storeErr("find conversation", err)
	}

	if conv == nil {
		conv, created, err = s.create(ctx, userID, otherUserID)
		if err != nil {
			return nil, false, err
		}
	}

	views, err := s.views(ctx, userID, []store.Conversation{*conv})
	if err != nil {
		return nil, false, err
	}
	return &views[0], created, nil
}

func (s *ConversationService) findPair(ctx context.Context, a, b string) (*store.Conversation, error) {
	opCtx, cancel := s.op(ctx)
	defer cancel()
	return s.store.FindConversationByPair(opCtx, a, b)
}

// create inserts a new conversation. Losing a race with a concurrent create
// for the same pair surfaces as ErrConflict, resolved by re-fetching.
func (s *ConversationService) create(ctx context.Context, userID, otherUserID string) (*store.Conversation, bool, error) {
	id, err := newID()
	if err != nil {
		return nil, false, err
	}
	now := s.timestamp()
	conv := &store.Conversation{
		ID:           id,
		Participants: store.NormalizePair(userID, otherUserID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	opCtx, cancel := s.op(ctx)
	err = s.store.InsertConversation(opCtx, conv)
	cancel()
	switch {
	case err == nil:
		s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
		s.publish(bus.KindConversationCreated, bus.ConversationEvent{
			ConversationID: conv.ID,
			ActorID:        userID,
			OtherID:        otherUserID,
		})
		return conv, true, nil
	case errors.Is(err, store.ErrConflict):
		existing, err := s.findPair(ctx, userID, otherUserID)
		if err != nil {
			return nil, false, storeErr("refetch conversation", err)
		}
		return existing, false, nil
	default:
		return nil, false, storeErr("create conversation", err)
	}
}

// ListMessages returns a conversation's messages oldest first, each with
// its sender's profile.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, userID string) ([]MessageView, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := s.op(ctx)
	msgs, err := s.store.ListMessages(opCtx, conv.ID)
	cancel()
	if err != nil {
		return nil, storeErr("list messages", err)
	}

	profiles := s.profiles(ctx, conv.Participants[0], conv.Participants[1])
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageView{Message: m, Sender: senderProfile(profiles, m.SenderID)})
	}
	return out, nil
}

// Delete removes a conversation and all of its messages.
func (s *ConversationService) Delete(ctx context.Context, conversationID, userID string) error {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	opCtx, cancel := s.op(ctx)
	err = s.store.DeleteConversation(opCtx, conv.ID)
	cancel()
	if err != nil {
		return storeErr("delete conversation", err)
	}

	other := conv.Other(userID)
	s.logger.Info("conversation deleted", zap.String("conversation_id", conv.ID), zap.String("by", userID))
	s.publish(bus.KindConversationDeleted, bus.ConversationEvent{
		ConversationID: conv.ID,
		ActorID:        userID,
		OtherID:        other,
	})
	s.push(ctx, other, wire.Event{Type: wire.EventConversationDeleted, ConversationID: conv.ID, UserID: userID})
	return nil
}

// MarkRead marks the other participant's messages as read by userID.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	opCtx, cancel := s.op(ctx)
	n, err := s.store.MarkRead(opCtx, conv.ID, userID)
	cancel()
	if err != nil {
		return 0, storeErr("mark read", err)
	}
	if n == 0 {
		return 0, nil
	}

	other := conv.Other(userID)
	s.publish(bus.KindMessagesRead, bus.MessageEvent{
		ConversationID: conv.ID,
		SenderID:       other,
		RecipientID:    userID,
		Count:          int(n),
	})
	s.push(ctx, other, wire.Event{Type: wire.EventMessagesRead, ConversationID: conv.ID, UserID: userID, Count: n})
	return n, nil
}

// views annotates convs for userID with profiles, last message previews and
// unread counts.
func (s *ConversationService) views(ctx context.Context, userID string, convs []store.Conversation) ([]ConversationView, error) {
	out := make([]ConversationView, 0, len(convs))
	if len(convs) == 0 {
		return out, nil
	}

	userIDs := []string{userID}
	convIDs := make([]string, 0, len(convs))
	var lastIDs []string
	for _, c := range convs {
		userIDs = append(userIDs, c.Other(userID))
		convIDs = append(convIDs, c.ID)
		if c.LastMessageID != "" {
			lastIDs = append(lastIDs, c.LastMessageID)
		}
	}

	opCtx, cancel := s.op(ctx)
	defer cancel()
	last, err := s.store.GetMessages(opCtx, lastIDs)
	if err != nil {
		return nil, storeErr("load last messages", err)
	}
	unread, err := s.store.CountUnread(opCtx, userID, convIDs)
	if err != nil {
		return nil, storeErr("count unread", err)
	}
	profiles := s.profiles(ctx, userIDs...)

	for _, c := range convs {
		v := ConversationView{
			Conversation: c,
			Participants: [2]store.Profile{profiles[c.Participants[0]], profiles[c.Participants[1]]},
			Other:        profiles[c.Other(userID)],
			UnreadCount:  unread[c.ID],
		}
		if m, ok := last[c.LastMessageID]; ok {
			v.LastMessage = &m
		} else if c.LastMessageID != "" {
			s.repairLastMessage(ctx, &v)
		}
		out = append(out, v)
	}
	return out, nil
}

// repairLastMessage fixes a pointer left at a deleted message by a delete
// whose recompute failed. Failures leave the view without a preview.
func (s *ConversationService) repairLastMessage(ctx context.Context, v *ConversationView) {
	conv, err := s.refreshLastMessage(ctx, v.Conversation.ID)
	if err != nil || conv == nil {
		s.logger.Warn("repair last message failed",
			zap.Error(err),
			zap.String("conversation_id", v.Conversation.ID))
		return
	}
	v.Conversation.LastMessageID = conv.LastMessageID
	if conv.LastMessageID == "" {
		return
	}
	opCtx, cancel := s.op(ctx)
	defer cancel()
	found, err := s.store.GetMessages(opCtx, []string{conv.LastMessageID})
	if err != nil {
		return
	}
	if m, ok := found[conv.LastMessageID]; ok {
		v.LastMessage = &m
	}
}

func senderProfile(profiles map[string]store.Profile, id string) store.Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return store.Profile{ID: id}
}
