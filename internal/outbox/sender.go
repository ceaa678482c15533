package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap"
)

// TextSender is the interface for sending text messages to the daemon.
type TextSender interface {
	SendMessage(ctx context.Context, conversationID, text, clientMsgID string) (*wire.Message, error)
}

// DefaultMaxAttempts bounds automatic retries of one entry.
const DefaultMaxAttempts = 5

// Sender drains the queue and sends messages through the REST API.
type Sender struct {
	queue       *Queue
	sender      TextSender
	bus         *bus.Bus
	logger      *zap.Logger
	maxAttempts int
	baseBackoff time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(q *Queue, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		queue:       q,
		sender:      sender,
		bus:         b,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: time.Second,
	}
}

// Start begins polling the queue for due messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight send to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// temporary is implemented by client errors worth retrying.
type temporary interface {
	Temporary() bool
}

func isTemporary(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

func (s *Sender) processDue(ctx context.Context) {
	for _, entry := range s.queue.Due() {
		msg, err := s.sender.SendMessage(ctx, entry.ConversationID, entry.Text, entry.ClientMsgID)
		if err != nil {
			if ctx.Err() != nil {
				s.queue.Requeue(entry.ClientMsgID, err, time.Now())
				return
			}
			if isTemporary(err) && entry.Attempts < s.maxAttempts {
				retryAt := time.Now().Add(s.backoff(entry.Attempts))
				s.logger.Warn("send failed, will retry",
					zap.Error(err),
					zap.String("client_msg_id", entry.ClientMsgID),
					zap.Int("attempt", entry.Attempts))
				s.queue.Requeue(entry.ClientMsgID, err, retryAt)
				continue
			}
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			s.queue.Fail(entry.ClientMsgID, err)
			s.bus.Publish(bus.Event{
				Kind:      bus.KindSendFailed,
				Timestamp: time.Now(),
				Payload: SendFailure{
					ClientMsgID:    entry.ClientMsgID,
					ConversationID: entry.ConversationID,
					Error:          err.Error(),
				},
			})
			continue
		}

		s.queue.Sent(entry.ClientMsgID)
		s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", msg.ID))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindSendAck,
			Timestamp: time.Now(),
			Payload: SendResult{
				ClientMsgID:    entry.ClientMsgID,
				ConversationID: entry.ConversationID,
				Message:        *msg,
			},
		})
	}
}

func (s *Sender) backoff(attempt int) time.Duration {
	d := s.baseBackoff << (attempt - 1)
	return min(d, 30*time.Second)
}
