package presence

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/petadopt/petchat/internal/bus"
)

// State is the lifecycle state of one realtime connection.
type State string

const (
	Connecting    State = "CONNECTING"
	Authenticated State = "AUTHENTICATED"
	Closed        State = "CLOSED"
)

// validTransitions defines allowed state transitions. A connection that
// never authenticates is discarded from Connecting and never registered.
var validTransitions = map[State][]State{
	Connecting:    {Authenticated},
	Authenticated: {Closed},
	Closed:        {},
}

// StateChange is the payload for connection.state_changed events.
type StateChange struct {
	ConnID string
	UserID string
	From   State
	To     State
}

// Session drives one connection through its lifecycle and keeps the
// registry in step: entering Authenticated registers it, entering Closed
// unregisters it.
type Session struct {
	mu       sync.Mutex
	state    State
	userID   string
	conn     Conn
	registry *Registry
	bus      *bus.Bus
}

// NewSession starts a connection in Connecting.
func NewSession(conn Conn, registry *Registry, b *bus.Bus) *Session {
	return &Session{
		state:    Connecting,
		conn:     conn,
		registry: registry,
		bus:      b,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated user, or "" before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticate binds the connection to userID and registers it.
func (s *Session) Authenticate(userID string) error {
	if userID == "" {
		return fmt.Errorf("authenticate: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(Authenticated); err != nil {
		return err
	}
	s.userID = userID
	s.registry.Register(userID, s.conn)
	s.publishLocked(Connecting, Authenticated)
	return nil
}

// Close unregisters an authenticated connection. Closing a connection that
// never authenticated, or closing twice, is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return
	}
	_ = s.transitionLocked(Closed)
	s.registry.Unregister(s.conn)
	s.publishLocked(Authenticated, Closed)
}

func (s *Session) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) publishLocked(from, to State) {
	s.bus.Publish(bus.Event{
		Kind:      bus.KindConnectionState,
		Timestamp: time.Now(),
		Payload: StateChange{
			ConnID: s.conn.ID(),
			UserID: s.userID,
			From:   from,
			To:     to,
		},
	})
}
