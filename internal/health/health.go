// Package health serves the standard gRPC health protocol for the
// conversation service. Status follows the document store: SERVING while it
// answers pings.
package health

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "clario.conversation"

const pingTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is a gRPC server that only carries the health service.
type Server struct {
	grpc     *grpc.Server
	hs       *health.Server
	db       Pinger
	interval time.Duration
	logger   *slog.Logger
	serving  atomic.Bool
}

// New creates the health server. Status starts as NOT_SERVING until the
// first check.
func New(db Pinger, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: gs, hs: hs, db: db, interval: interval, logger: logger}
}

// Check pings the store and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	err := s.db.Ping(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if was := s.serving.Swap(err == nil); was != (err == nil) {
		if err != nil {
			s.logger.Warn("Health check failing", "error", err)
		} else {
			s.logger.Info("Health check passing")
		}
	}
	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(ServiceName, status)
	return err == nil
}

// Run re-checks periodically until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.Check(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains connections.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.grpc.GracefulStop()
}
