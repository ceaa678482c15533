// Package fanout extends push delivery across daemon instances. Each
// instance delivers to its own connections, then publishes an envelope that
// the other instances deliver to theirs.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Local delivers to connections held by this instance.
type Local interface {
	Push(ctx context.Context, userID string, payload []byte)
}

// Envelope is the message exchanged between instances.
type Envelope struct {
	Origin  string          `json:"origin"`
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

func encode(origin, userID string, payload []byte) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.Marshal(Envelope{Origin: origin, UserID: userID, Payload: payload})
}

// relay turns envelopes from other instances into local pushes.
type relay struct {
	origin string
	local  Local
	logger *zap.Logger
}

func newRelay(origin string, local Local, logger *zap.Logger) relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return relay{origin: origin, local: local, logger: logger}
}

// deliver reports whether data was pushed locally. Envelopes published by
// this instance were already delivered by Push and are skipped.
func (r *relay) deliver(ctx context.Context, data []byte) bool {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("discarding malformed fanout envelope", zap.Error(err))
		return false
	}
	if env.Origin == r.origin || env.UserID == "" {
		return false
	}
	r.local.Push(ctx, env.UserID, env.Payload)
	return true
}
