package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS fans pushes out over a NATS subject.
type NATS struct {
	relay
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
}

// DialNATS connects with reconnect settings suited to a long-lived daemon.
func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NewNATS creates a NATS fan-out. origin must be unique per instance.
func NewNATS(conn *nats.Conn, subject, origin string, local Local, logger *zap.Logger) *NATS {
	return &NATS{
		relay:   newRelay(origin, local, logger),
		conn:    conn,
		subject: subject,
	}
}

// Push delivers locally, then publishes for the other instances.
func (n *NATS) Push(ctx context.Context, userID string, payload []byte) {
	n.local.Push(ctx, userID, payload)

	data, err := encode(n.origin, userID, payload)
	if err != nil {
		n.logger.Error("encode fanout envelope", zap.Error(err))
		return
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.logger.Warn("nats publish failed", zap.Error(err), zap.String("user_id", userID))
	}
}

// Start subscribes to the subject. Every instance must see every envelope,
// so this is a plain subscription, not a queue group.
func (n *NATS) Start(context.Context) error {
	sub, err := n.conn.Subscribe(n.subject, func(m *nats.Msg) {
		n.deliver(context.Background(), m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", n.subject, err)
	}
	n.sub = sub
	n.logger.Info("nats fanout started", zap.String("subject", n.subject))
	return nil
}

// Stop drains the subscription.
func (n *NATS) Stop() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Drain()
}
