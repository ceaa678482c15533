// Package events forwards domain events from the in-process bus to Kafka
// for downstream consumers such as the notification service.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/petadopt/petchat/internal/bus"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RecordWriter is the subset of *kafka.Writer the forwarder uses.
type RecordWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the JSON value written for every forwarded event.
type Record struct {
	Kind           string    `json:"kind"`
	OccurredAt     time.Time `json:"occurredAt"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	SenderID       string    `json:"senderId,omitempty"`
	RecipientID    string    `json:"recipientId,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	Count          int       `json:"count,omitempty"`
}

var namespaces = []string{"message.", "conversation."}

const writeTimeout = 5 * time.Second

// Forwarder drains message and conversation events into a Kafka topic. A
// circuit breaker stops hammering an unreachable broker; events arriving
// while it is open are dropped and counted.
type Forwarder struct {
	writer  RecordWriter
	bus     *bus.Bus
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	dropped int
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewForwarder(w RecordWriter, b *bus.Bus, logger *zap.Logger) *Forwarder {
	st := gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Forwarder{
		writer:  w,
		bus:     b,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

// Start subscribes to the bus and forwards in the background.
func (f *Forwarder) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	ch, unsub := f.bus.SubscribeAny(256, namespaces...)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				f.forward(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop waits for the forwarding loop and closes the writer.
func (f *Forwarder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	if err := f.writer.Close(); err != nil {
		f.logger.Warn("close kafka writer", zap.Error(err))
	}
}

// Dropped returns how many events could not be written.
func (f *Forwarder) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *Forwarder) forward(ctx context.Context, evt bus.Event) {
	rec, ok := toRecord(evt)
	if !ok {
		return
	}
	value, err := json.Marshal(rec)
	if err != nil {
		f.logger.Error("encode event record", zap.Error(err), zap.String("kind", evt.Kind))
		return
	}
	msg := kafka.Message{Key: []byte(rec.ConversationID), Value: value, Time: rec.OccurredAt}

	_, err = f.breaker.Execute(func() (any, error) {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return nil, f.writer.WriteMessages(wctx, msg)
	})
	if err != nil {
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return
		}
		f.logger.Warn("forward event failed", zap.Error(err), zap.String("kind", evt.Kind))
	}
}

func toRecord(evt bus.Event) (Record, bool) {
	rec := Record{Kind: evt.Kind, OccurredAt: evt.Timestamp.UTC()}
	switch p := evt.Payload.(type) {
	case bus.MessageEvent:
		rec.ConversationID = p.ConversationID
		rec.MessageID = p.MessageID
		rec.SenderID = p.SenderID
		rec.RecipientID = p.RecipientID
		rec.Count = p.Count
	case bus.ConversationEvent:
		rec.ConversationID = p.ConversationID
		rec.ActorID = p.ActorID
		rec.RecipientID = p.OtherID
	default:
		return rec, false
	}
	return rec, true
}
