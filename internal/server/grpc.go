package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"saas-admin/backend/internal/server/interceptors"
)

// PublicMethods are the gRPC methods callable without a Bearer token.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewGRPCServer returns a gRPC server exposing the standard health service. Every other method
// requires a valid access token. RPCs are traced and measured through otelgrpc.
func NewGRPCServer(tokens interceptors.AccessVerifier, hs *health.Server, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, PublicMethods),
			interceptors.AuthUnary(tokens, PublicMethods),
		),
		grpc.ChainStreamInterceptor(interceptors.AuthStream(tokens, PublicMethods)),
	)
	healthpb.RegisterHealthServer(s, hs)
	return s
}
