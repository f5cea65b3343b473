package health

import (
	"context"
	"net"
	"time"

	"github.com/sbilibin2017/gw-accounts/internal/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// Server exposes the standard gRPC health service. The status of both the
// overall server ("") and the named service follows the result of the
// dependency pings.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	service string
	pingers []Pinger
}

// NewServer creates a health server. Status starts as NOT_SERVING until the
// first successful Check.
func NewServer(service string, pingers ...Pinger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{
		grpc:    gs,
		health:  hs,
		service: service,
		pingers: pingers,
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Check pings every dependency and updates the serving status.
func (s *Server) Check(ctx context.Context) error {
	for _, p := range s.pingers {
		if err := p.PingContext(ctx); err != nil {
			logger.Log.Warnw("health check failed", "service", s.service, "error", err)
			s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
			return err
		}
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Watch runs Check immediately and then every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		_ = s.Check(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve accepts gRPC connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}
