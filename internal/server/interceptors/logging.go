// Package interceptors holds the gRPC server interceptors used by the health server.
package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryLogger logs every unary RPC with its method, status code and duration.
// Methods in quiet are logged at debug level (e.g. probe traffic).
func UnaryLogger(log logrus.FieldLogger, quiet map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case code == codes.Internal || code == codes.Unknown:
			entry.WithError(err).Error("grpc_request")
		case quiet[info.FullMethod]:
			entry.Debug("grpc_request")
		default:
			entry.Info("grpc_request")
		}
		return resp, err
	}
}

// UnaryRecover turns a handler panic into codes.Internal and logs the stack.
func UnaryRecover(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.WithFields(logrus.Fields{
					"method": info.FullMethod,
					"panic":  p,
					"stack":  string(debug.Stack()),
				}).Error("grpc handler panic")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// StreamRecover is UnaryRecover for streaming RPCs (health Watch).
func StreamRecover(log logrus.FieldLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				log.WithFields(logrus.Fields{
					"method": info.FullMethod,
					"panic":  p,
				}).Error("grpc stream panic")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(srv, ss)
	}
}
