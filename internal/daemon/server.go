package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/petadopt/petchat/internal/instance"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names reported on the admin socket. The empty name is the
// overall daemon status.
const (
	ServiceStore    = "petchat.store"
	ServiceDelivery = "petchat.delivery"
)

// AdminServer serves the gRPC health protocol on the instance's Unix socket.
type AdminServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewAdminServer binds the instance's admin socket.
func NewAdminServer(socketPath string, logger *zap.Logger) (*AdminServer, error) {
	if err := instance.ValidateSocketPath(socketPath); err != nil {
		return nil, err
	}
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	for _, svc := range []string{"", ServiceStore, ServiceDelivery} {
		hs.SetServingStatus(svc, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &AdminServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start serves admin requests. Blocks until stopped.
func (s *AdminServer) Start() error {
	s.logger.Info("admin server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// SetServing flips the status reported for service.
func (s *AdminServer) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// WatchStore pings the store every interval and reports the result under
// ServiceStore until ctx is done.
func (s *AdminServer) WatchStore(ctx context.Context, pinger interface {
	Ping(ctx context.Context) error
}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := pinger.Ping(pctx)
			cancel()
			if ok := err == nil; ok != healthy {
				healthy = ok
				if !ok {
					s.logger.Warn("store ping failed", zap.Error(err))
				} else {
					s.logger.Info("store reachable again")
				}
			}
			s.SetServing(ServiceStore, err == nil)
		}
	}
}

// Stop marks everything not serving, shuts down and removes the socket.
func (s *AdminServer) Stop(_ context.Context) {
	s.logger.Info("admin server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
