// Package realtime serves the WebSocket push channel.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var (
	errClosed     = errors.New("connection closed")
	errBufferFull = errors.New("connection buffer exceeded")
)

// Conn wraps a websocket and serializes outbound writes through a buffered
// channel drained by a single writer goroutine. Send and Close are safe for
// concurrent use.
type Conn struct {
	id         string
	ws         *websocket.Conn
	send       chan []byte
	closed     chan struct{}
	once       sync.Once
	pingPeriod time.Duration
}

func newConn(ws *websocket.Conn, buffer int, pingPeriod time.Duration) *Conn {
	return &Conn{
		id:         uuid.NewString(),
		ws:         ws,
		send:       make(chan []byte, buffer),
		closed:     make(chan struct{}),
		pingPeriod: pingPeriod,
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues payload. A full buffer means the client is not keeping up;
// the connection is closed rather than blocking the pusher.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeWith(websocket.CloseGoingAway, "send buffer full")
		return errBufferFull
	}
}

// Close sends a normal close frame and tears down the socket.
func (c *Conn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Conn) start() {
	go c.writeLoop()
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
