package receiver

import (
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyHeader is the metadata key pushers put their API key under.
const APIKeyHeader = "x-api-key"

// StreamAPIKey returns a StreamServerInterceptor that requires header to
// carry key. An empty key lets every stream through. A missing or wrong
// key ends the stream with codes.Unauthenticated before the handler runs.
func StreamAPIKey(header, key string) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if key == "" {
			return handler(srv, ss)
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(header)
		if len(vals) == 0 || vals[0] != key {
			return status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(srv, ss)
	}
}

// StreamLogging returns a StreamServerInterceptor that logs each stream
// and turns a handler panic into codes.Internal.
func StreamLogging() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("receiver: stream handler panicked",
					"method", info.FullMethod, "panic", p, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
			slog.Info("receiver: stream finished",
				"method", info.FullMethod,
				"code", status.Code(err).String(),
				"duration", time.Since(start),
			)
		}()
		return handler(srv, ss)
	}
}
