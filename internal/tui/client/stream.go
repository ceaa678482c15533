package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petadopt/petchat/internal/wire"
)

// WebSocketURL maps the daemon's http(s) base URL to its realtime endpoint.
func (c *Client) WebSocketURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Stream holds the session's single realtime connection.
type Stream struct {
	client *Client
	dialer *websocket.Dialer
	// OnEvent receives the ready frame of each connection and every push
	// frame after it, in arrival order.
	OnEvent func(wire.Event)
	// OnState is told whenever the connection goes up or down.
	OnState func(connected bool, err error)
}

func (c *Client) Stream() *Stream {
	return &Stream{client: c, dialer: websocket.DefaultDialer}
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Run keeps one connection open, reconnecting with exponential backoff,
// until ctx is done. A rejected token ends the loop.
func (s *Stream) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.state(false, err)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (s *Stream) session(ctx context.Context) error {
	header := http.Header{"Authorization": {"Bearer " + s.client.token}}
	ws, _, err := s.dialer.DialContext(ctx, s.client.WebSocketURL(), header)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer func() { _ = ws.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	var ready wire.Event
	if err := ws.ReadJSON(&ready); err != nil {
		return &TransportError{Err: err}
	}
	switch ready.Type {
	case wire.EventReady:
	case wire.EventError:
		return &APIError{Status: http.StatusUnauthorized, Msg: ready.Error}
	default:
		return fmt.Errorf("unexpected first frame %q", ready.Type)
	}
	s.state(true, nil)
	if s.OnEvent != nil {
		s.OnEvent(ready)
	}

	for {
		var ev wire.Event
		if err := ws.ReadJSON(&ev); err != nil {
			return &TransportError{Err: err}
		}
		if ev.Type == wire.FramePong {
			continue
		}
		if s.OnEvent != nil {
			s.OnEvent(ev)
		}
	}
}

func (s *Stream) state(connected bool, err error) {
	if s.OnState != nil {
		s.OnState(connected, err)
	}
}
