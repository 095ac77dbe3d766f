// Package handler exposes health status over gRPC (grpc.health.v1) and HTTP probes.
package handler

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// RegisterGRPC registers the grpc.health.v1 service on s, plus server reflection so
// grpcurl and grpc-health-probe can discover it.
func RegisterGRPC(s *grpc.Server, srv healthpb.HealthServer) {
	healthpb.RegisterHealthServer(s, srv)
	reflection.Register(s)
}
