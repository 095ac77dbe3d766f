package server

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "message-feed/backend/internal/health/handler"
	"message-feed/backend/internal/server/interceptors"
)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 backed by health,
// instrumented with otelgrpc and wrapped in the logging and recovery interceptors.
func NewGRPCServer(log logrus.FieldLogger, health healthpb.HealthServer) *grpc.Server {
	quiet := map[string]bool{healthpb.Health_Check_FullMethodName: true}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.UnaryRecover(log),
			interceptors.UnaryLogger(log, quiet),
		),
		grpc.ChainStreamInterceptor(interceptors.StreamRecover(log)),
	)
	healthhandler.RegisterGRPC(s, health)
	return s
}
