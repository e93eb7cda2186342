package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"loginguard/internal/health"
)

// OpsDeps holds the collaborators of the operations gRPC listener.
type OpsDeps struct {
	// Health publishes readiness. If nil, the health service is not registered.
	Health *health.Checker
	// Reflection registers server reflection (grpcurl, grpcui). Keep off in production.
	Reflection bool
}

// NewOpsServer returns a gRPC server carrying only operational services. Login traffic is HTTP;
// this listener exists for load balancer health checks and tooling.
func NewOpsServer(deps OpsDeps) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the operational services with s.
//
//   - grpc.health.v1.Health → internal/health
//   - grpc.reflection       → when deps.Reflection
func RegisterServices(s grpc.ServiceRegistrar, deps OpsDeps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health.Server())
	}
	if deps.Reflection {
		if srv, ok := s.(reflection.GRPCServer); ok {
			reflection.Register(srv)
		}
	}
}
