package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petadopt/petchat/internal/auth"
	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/presence"
	"github.com/petadopt/petchat/internal/wire"
	"go.uber.org/zap"
)

const maxFrameSize = 4096

// Options tune a Handler. Zero values take the defaults below.
type Options struct {
	AuthTimeout    time.Duration
	SendBuffer     int
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (o *Options) applyDefaults() {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 128
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// Handler upgrades requests to WebSocket, authenticates them and keeps them
// registered in the presence registry until the peer goes away.
type Handler struct {
	verifier auth.TokenVerifier
	registry *presence.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. Zero option fields take defaults.
func NewHandler(verifier auth.TokenVerifier, registry *presence.Registry, b *bus.Bus, logger *zap.Logger, opts Options) *Handler {
	opts.applyDefaults()
	h := &Handler{
		verifier: verifier,
		registry: registry,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits non-browser clients (no Origin header) and the
// configured browser origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxFrameSize)

	conn := newConn(ws, h.opts.SendBuffer, h.opts.PingInterval)
	session := presence.NewSession(conn, h.registry, h.bus)

	if token == "" {
		token, err = h.readAuthFrame(ws)
		if err != nil {
			h.reject(conn, "authentication required")
			return
		}
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		h.reject(conn, "invalid token")
		return
	}

	conn.start()
	if err := session.Authenticate(userID); err != nil {
		h.logger.Error("register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	defer func() {
		session.Close()
		_ = conn.Close()
	}()

	h.logger.Debug("connection ready", zap.String("user_id", userID), zap.String("conn_id", conn.ID()))
	h.sendFrame(conn, wire.Event{Type: wire.EventReady, UserID: userID})
	h.readLoop(ws, conn)
}

// readAuthFrame waits up to AuthTimeout for {"type":"auth","token":...}.
func (h *Handler) readAuthFrame(ws *websocket.Conn) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.AuthTimeout)); err != nil {
		return "", err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}
	var frame wire.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", err
	}
	if frame.Type != wire.FrameAuth || frame.Token == "" {
		return "", errors.New("expected auth frame")
	}
	return frame.Token, nil
}

// reject writes an error frame directly, since the writer goroutine has not
// started yet, and closes the socket.
func (h *Handler) reject(conn *Conn, reason string) {
	payload, _ := json.Marshal(wire.Event{Type: wire.EventError, Error: reason})
	if err := conn.write(websocket.TextMessage, payload); err == nil {
		conn.closeWith(websocket.ClosePolicyViolation, reason)
		return
	}
	_ = conn.Close()
}

func (h *Handler) readLoop(ws *websocket.Conn, conn *Conn) {
	pongWait := 2 * h.opts.PingInterval
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("connection read ended", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame wire.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == wire.FramePing {
			h.sendFrame(conn, wire.Event{Type: wire.FramePong})
		}
	}
}

func (h *Handler) sendFrame(conn *Conn, ev wire.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}
