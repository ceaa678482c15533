// Package presence tracks which users have live realtime connections on
// this instance and pushes payloads to them.
package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Conn is a live connection handle. Send must not block: implementations
// queue the payload or fail.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Users       int
	Connections int
}

// Registry maps user ids to their live connections, with a reverse index
// from connection id to user id.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
	owner  map[string]string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byUser: make(map[string]map[string]Conn),
		owner:  make(map[string]string),
		logger: logger,
	}
}

// Register records conn as a live connection of userID. Registering the
// same handle again is a no-op; a handle registered under another user
// moves to userID.
func (r *Registry) Register(userID string, conn Conn) {
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[id]; ok {
		if prev == userID {
			return
		}
		r.removeLocked(prev, id)
	}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[userID] = conns
	}
	conns[id] = conn
	r.owner[id] = userID
}

// Unregister forgets conn. Unknown handles are ignored.
func (r *Registry) Unregister(conn Conn) {
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID, ok := r.owner[id]; ok {
		r.removeLocked(userID, id)
	}
}

func (r *Registry) removeLocked(userID, connID string) {
	delete(r.owner, connID)
	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
}

// Push writes payload to every live connection of userID. The lock is only
// held while copying the connection set. A connection whose write fails is
// unregistered and closed; the others are unaffected.
func (r *Registry) Push(_ context.Context, userID string, payload []byte) {
	conns := r.Connections(userID)
	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			r.logger.Warn("push failed, dropping connection",
				zap.String("user_id", userID),
				zap.String("conn_id", c.ID()),
				zap.Error(err))
			r.Unregister(c)
			_ = c.Close()
		}
	}
}

// Connections returns a snapshot of userID's live connections.
func (r *Registry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Online reports whether userID has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// UserOf returns the user a connection is registered under.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owner[connID]
	return userID, ok
}

// Stats counts online users and live connections.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Users: len(r.byUser), Connections: len(r.owner)}
}

// CloseAll closes and forgets every connection, returning how many there
// were. Used on shutdown, since hijacked connections outlive the HTTP
// server's own drain.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.owner))
	for _, byID := range r.byUser {
		for _, c := range byID {
			conns = append(conns, c)
		}
	}
	r.byUser = make(map[string]map[string]Conn)
	r.owner = make(map[string]string)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
