// Package messaging holds the conversation and message services: the rules
// for who may read, write and delete, and the ordering of store writes and
// push notifications.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/store"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap"
)

// DefaultMaxTextLength is the maximum message length in characters.
const DefaultMaxTextLength = 2000

// Pusher delivers a payload to every live connection of a user. Delivery is
// best-effort and never reports failure to the caller.
type Pusher interface {
	Push(ctx context.Context, userID string, payload []byte)
}

// Options tunes the services. Zero values fall back to defaults.
type Options struct {
	MaxTextLength int
	OpTimeout     time.Duration
	Now           func() time.Time
}

// deps is shared by both services.
type deps struct {
	store     store.Store
	pusher    Pusher
	bus       *bus.Bus
	logger    *zap.Logger
	maxText   int
	opTimeout time.Duration
	now       func() time.Time
}

func newDeps(st store.Store, pusher Pusher, b *bus.Bus, logger *zap.Logger, opts Options) deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := deps{
		store:     st,
		pusher:    pusher,
		bus:       b,
		logger:    logger,
		maxText:   opts.MaxTextLength,
		opTimeout: opts.OpTimeout,
		now:       opts.Now,
	}
	if d.maxText <= 0 {
		d.maxText = DefaultMaxTextLength
	}
	if d.opTimeout <= 0 {
		d.opTimeout = 5 * time.Second
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// op bounds a single store call.
func (d *deps) op(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.opTimeout)
}

// timestamp returns the current time at the millisecond precision both
// stores keep.
func (d *deps) timestamp() time.Time {
	return d.now().UTC().Truncate(time.Millisecond)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: generate id: %w", ErrUnavailable, err)
	}
	return id.String(), nil
}

// participantConversation loads a conversation and checks that userID is in it.
func (d *deps) participantConversation(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	if conversationID == "" {
		return nil, invalid("conversation id is required")
	}
	opCtx, cancel := d.op(ctx)
	defer cancel()
	conv, err := d.store.GetConversation(opCtx, conversationID)
	if err != nil {
		return nil, storeErr("get conversation", err)
	}
	if !conv.Has(userID) {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", ErrForbidden, conversationID)
	}
	return conv, nil
}

// profiles resolves public profiles. Lookup failures and unknown users
// degrade to an id-only profile.
func (d *deps) profiles(ctx context.Context, ids ...string) map[string]store.Profile {
	opCtx, cancel := d.op(ctx)
	defer cancel()
	found, err := d.store.GetProfiles(opCtx, ids)
	if err != nil {
		d.logger.Warn("profile lookup failed", zap.Error(err), zap.Int("count", len(ids)))
		found = nil
	}
	out := make(map[string]store.Profile, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out[id] = p
		} else {
			out[id] = store.Profile{ID: id}
		}
	}
	return out
}

func (d *deps) publish(kind string, payload any) {
	d.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// push encodes evt and hands it to the delivery layer. It outlives request
// cancellation so a client hanging up right after a send does not suppress
// the recipient's notification.
func (d *deps) push(ctx context.Context, userID string, evt wire.Event) {
	if d.pusher == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error("encode push event", zap.Error(err), zap.String("type", evt.Type))
		return
	}
	pushCtx, cancel := d.op(context.WithoutCancel(ctx))
	defer cancel()
	d.pusher.Push(pushCtx, userID, payload)
}
