// Package admin serves the standard gRPC health service so orchestrators can
// probe the coordination server independently of the game endpoint.
package admin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/roomsync/internal/config"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Server exposes grpc.health.v1.Health.
type Server struct {
	cfg     config.AdminConfig
	service string
	grpc    *grpc.Server
	health  *health.Server
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a health server reporting SERVING for both the overall
// server ("") and service.
//
// Precondition: service must be non-empty; logger must be non-nil.
func NewServer(cfg config.AdminConfig, service string, logger *zap.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		cfg:     cfg,
		service: service,
		grpc:    gs,
		health:  hs,
		logger:  logger,
	}
}

// ListenAndServe listens on the configured address and serves until Stop.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("health service listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("service", s.service),
	)
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serving grpc health: %w", err)
	}
	return nil
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetServing flips the status of the named service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
}

// Watch runs check every interval and reports its outcome as the status of
// name until ctx is done.
//
// Precondition: interval must be > 0.
func (s *Server) Watch(ctx context.Context, name string, interval time.Duration, check CheckFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if err := check(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				s.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			}
		} else if last == healthpb.HealthCheckResponse_NOT_SERVING {
			s.logger.Info("dependency recovered", zap.String("dependency", name))
		}
		s.health.SetServingStatus(name, status)
		last = status

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server, forcing it
// closed if ctx expires before in-flight calls finish.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.logger.Info("health service stopped")
}
