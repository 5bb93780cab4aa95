package grpc

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/example/kioskshop/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Check tests one dependency. A nil error means it is serving.
type Check func(ctx context.Context) error

// HealthServer publishes dependency health over the standard gRPC health
// protocol. Each check is reported under its own service name and the
// empty service name reflects all of them.
type HealthServer struct {
	config   *config.Config
	logger   *zap.Logger
	checks   map[string]Check
	interval time.Duration

	health *health.Server
	srv    *grpc.Server

	stopOnce sync.Once
	stop     chan struct{}
}

func NewHealthServer(cfg *config.Config, logger *zap.Logger, checks map[string]Check) *HealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &HealthServer{
		config:   cfg,
		logger:   logger.Named("grpc-health"),
		checks:   checks,
		interval: 10 * time.Second,
		health:   hs,
		srv:      srv,
		stop:     make(chan struct{}),
	}
}

func (s *HealthServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info("gRPC health service started", zap.String("address", addr))
	return s.Serve(lis)
}

// Serve checks once, then serves on lis while re-checking in the background.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.refresh()
	go s.loop()
	return s.srv.Serve(lis)
}

func (s *HealthServer) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *HealthServer) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		status := healthpb.HealthCheckResponse_SERVING
		if err := s.checks[name](ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			s.logger.Warn("Dependency unhealthy", zap.String("dependency", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

func (s *HealthServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.srv.GracefulStop()
	})
}
