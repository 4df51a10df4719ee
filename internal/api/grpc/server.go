// Package grpcapi hosts the gRPC side of the service: health checking for
// the engine and its live session registry, and reflection for grpcurl.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"talk-coach-engine/internal/observability"
	"talk-coach-engine/internal/observability/metrics"
)

// ServiceName is the health-check name of the session engine.
const ServiceName = "talkcoach.v1.SessionEngine"

// Server wraps a gRPC server with health and reflection registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New creates a gRPC server with the logging and metrics interceptors.
func New(logger zerolog.Logger) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(logger, metrics.DefaultMetrics)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(logger, metrics.DefaultMetrics)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, healthServer)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: healthServer, logger: logger}
	s.SetServing(false)
	return s
}

// SetServing flips the health status of the server and the session engine.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
	return s.grpc.Serve(lis)
}

// Stop marks the server not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.SetServing(false)
	s.grpc.GracefulStop()
}
