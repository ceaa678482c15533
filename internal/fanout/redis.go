package fanout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis fans pushes out over a Redis pub/sub channel.
type Redis struct {
	relay
	client  *redis.Client
	channel string
	sub     *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedis creates a Redis fan-out. origin must be unique per instance.
func NewRedis(client *redis.Client, channel, origin string, local Local, logger *zap.Logger) *Redis {
	return &Redis{
		relay:   newRelay(origin, local, logger),
		client:  client,
		channel: channel,
	}
}

// Push delivers locally, then publishes for the other instances. A publish
// failure is logged; local delivery has already happened.
func (r *Redis) Push(ctx context.Context, userID string, payload []byte) {
	r.local.Push(ctx, userID, payload)

	data, err := encode(r.origin, userID, payload)
	if err != nil {
		r.logger.Error("encode fanout envelope", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("redis publish failed", zap.Error(err), zap.String("user_id", userID))
	}
}

// Start subscribes to the channel and relays envelopes until Stop. ctx only
// bounds the subscription handshake; the relay loop outlives it.
func (r *Redis) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.sub = r.client.Subscribe(loopCtx, r.channel)
	if _, err := r.sub.Receive(ctx); err != nil {
		_ = r.sub.Close()
		r.cancel()
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	r.done = make(chan struct{})
	ch := r.sub.Channel()
	go func() {
		defer close(r.done)
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(loopCtx, []byte(msg.Payload))
			case <-loopCtx.Done():
				return
			}
		}
	}()
	r.logger.Info("redis fanout started", zap.String("channel", r.channel))
	return nil
}

// Stop unsubscribes and waits for the relay loop to exit.
func (r *Redis) Stop() error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	err := r.sub.Close()
	if r.done != nil {
		<-r.done
	}
	return err
}
