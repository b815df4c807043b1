package api

import (
	"fmt"
	"net"

	"github.com/elzor/vstorage/internal/blockstore/meta"
	"github.com/elzor/vstorage/internal/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer carries only the health surface described by the engine's
// scope. Client authentication and a bespoke RPC service are explicitly
// out of scope, so this wraps the standard health.Server rather than a
// generated service implementation.
type GRPCServer struct {
	grpc   *grpc.Server
	health *health.Server
	store  meta.Store
}

func NewGRPCServer(store meta.Store) *GRPCServer {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &GRPCServer{grpc: grpcServer, health: healthServer, store: store}
}

// Start listens and serves, blocking until the server stops. It sets
// the initial health status before accepting connections.
func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.refreshHealth()
	log.Logger.Info().Str("addr", addr).Msg("grpc health server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before shutting the server down.
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// refreshHealth probes the metadata store once and sets the serving
// status accordingly. Start calls it once, before serving; the status
// is not refreshed after that.
func (s *GRPCServer) refreshHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.probe(); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		log.Logger.Error().Err(err).Msg("metadata store probe failed")
	}
	s.health.SetServingStatus("", status)
}

// probe exercises a read-only transaction against the metadata store.
// An empty id never matches a real block, so ExistsBlock returning
// (false, nil) is the healthy case; any non-nil error means the store
// itself is unreachable or corrupt.
func (s *GRPCServer) probe() error {
	_, err := s.store.ExistsBlock("")
	return err
}
