package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/petadopt/petchat/internal/auth"
	"github.com/petadopt/petchat/internal/messaging"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap"
)

type handlers struct {
	conversations *messaging.ConversationService
	messages      *messaging.MessageService
	health        Pinger
	logger        *zap.Logger
	limiter       *userLimiter
}

func (h *handlers) healthz(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, wire.ErrorResponse{Msg: "store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listConversations(c *gin.Context) {
	views, err := h.conversations.ListForUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]wire.Conversation, 0, len(views))
	for _, v := range views {
		out = append(out, toConversation(v))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) createConversation(c *gin.Context) {
	var req wire.CreateConversationRequest
	if err := bindStrict(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Msg: "invalid request body"})
		return
	}
	view, created, err := h.conversations.GetOrCreate(c.Request.Context(), auth.UserID(c), req.OtherUserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toConversation(*view))
}

func (h *handlers) getConversation(c *gin.Context) {
	view, err := h.conversations.Get(c.Request.Context(), c.Param("conversationId"), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversation(*view))
}

func (h *handlers) deleteConversation(c *gin.Context) {
	if err := h.conversations.Delete(c.Request.Context(), c.Param("conversationId"), auth.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "conversation deleted"})
}

func (h *handlers) listMessages(c *gin.Context) {
	views, err := h.conversations.ListMessages(c.Request.Context(), c.Param("conversationId"), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]wire.Message, 0, len(views))
	for _, v := range views {
		out = append(out, wire.FromMessage(v.Message, v.Sender))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req wire.SendMessageRequest
	if err := bindStrict(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorResponse{Msg: "invalid request body"})
		return
	}
	view, err := h.messages.Send(c.Request.Context(), c.Param("conversationId"), auth.UserID(c), req.Text, req.ClientMsgID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, wire.FromMessage(view.Message, view.Sender))
}

func (h *handlers) markRead(c *gin.Context) {
	n, err := h.conversations.MarkRead(c.Request.Context(), c.Param("conversationId"), auth.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.MarkReadResponse{Updated: n})
}

func (h *handlers) deleteMessage(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), c.Param("messageId"), auth.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "message deleted"})
}

// fail renders a service error. Only invalid-request details reach the
// client; everything else gets a fixed message.
func (h *handlers) fail(c *gin.Context, err error) {
	var status int
	var msg string
	switch {
	case errors.Is(err, messaging.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, messaging.ErrForbidden):
		status, msg = http.StatusForbidden, "not a participant of this conversation"
	case errors.Is(err, messaging.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, messaging.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "service unavailable, try again"
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		c.Status(499)
		return
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", auth.UserID(c)),
			zap.Error(err))
	}
	c.JSON(status, wire.ErrorResponse{Msg: msg})
}

func toConversation(v messaging.ConversationView) wire.Conversation {
	return wire.Conversation{
		ID:               v.Conversation.ID,
		Participants:     []wire.Profile{wire.FromProfile(v.Participants[0]), wire.FromProfile(v.Participants[1])},
		OtherParticipant: wire.FromProfile(v.Other),
		LastMessage:      wire.FromLastMessage(v.LastMessage),
		UnreadCount:      v.UnreadCount,
		CreatedAt:        v.Conversation.CreatedAt,
		UpdatedAt:        v.Conversation.UpdatedAt,
	}
}

// bindStrict decodes the JSON body into dst, rejecting unknown fields. It
// leaves gin's process-wide binding settings alone.
func bindStrict(c *gin.Context, dst any) error {
	if c.Request.Body == nil {
		return fmt.Errorf("empty body")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
