// Package httpapi serves the REST surface and mounts the realtime endpoint.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/petadopt/petchat/internal/auth"
	"github.com/petadopt/petchat/internal/messaging"
	"go.uber.org/zap"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the routes call into.
type Deps struct {
	Conversations *messaging.ConversationService
	Messages      *messaging.MessageService
	Verifier      auth.TokenVerifier
	Realtime      http.Handler
	Health        Pinger
	Logger        *zap.Logger
}

// Options tune the HTTP surface.
type Options struct {
	AllowedOrigins []string
	SendPerSecond  float64
	SendBurst      int
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	h := &handlers{
		conversations: d.Conversations,
		messages:      d.Messages,
		health:        d.Health,
		logger:        d.Logger,
		limiter:       newUserLimiter(opts.SendPerSecond, opts.SendBurst),
	}

	r.GET("/healthz", h.healthz)
	if d.Realtime != nil {
		r.GET("/ws", gin.WrapH(d.Realtime))
	}

	api := r.Group("/api/conversations", auth.Middleware(d.Verifier))
	api.GET("", h.listConversations)
	api.POST("", h.createConversation)
	api.DELETE("/messages/:messageId", h.deleteMessage)
	api.GET("/:conversationId", h.getConversation)
	api.DELETE("/:conversationId", h.deleteConversation)
	api.GET("/:conversationId/messages", h.listMessages)
	api.POST("/:conversationId/messages", h.limiter.middleware(), h.sendMessage)
	api.POST("/:conversationId/read", h.markRead)

	return r
}

// Server owns the HTTP listener.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Listen binds the address so bind errors surface before Serve runs in
// the background.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return ln, nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Serve blocks until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests. Hijacked WebSocket connections are not
// tracked by Shutdown; the presence registry closes those.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.httpServer.Shutdown(ctx)
}
