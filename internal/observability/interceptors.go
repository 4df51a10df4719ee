package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"talk-coach-engine/internal/observability/metrics"
)

// UnaryServerInterceptor records every unary call by method and status code.
// Successful calls, mostly health probes, are logged at debug.
func UnaryServerInterceptor(logger zerolog.Logger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		code := status.Code(err)
		m.RecordGRPCCall(info.FullMethod, code.String(), elapsed.Seconds())

		ev := logger.Debug()
		if code != codes.OK {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", elapsed).
			Msg("gRPC call")
		return resp, err
	}
}

// StreamServerInterceptor tracks open streams, such as health watches, in the
// shared stream gauge. A stream cancelled by its client counts as a success.
func StreamServerInterceptor(logger zerolog.Logger, m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		m.RecordStreamStart()

		err := handler(srv, ss)

		code := status.Code(err)
		success := code == codes.OK || code == codes.Canceled
		m.RecordStreamEnd(success)

		logger.Info().
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Bool("success", success).
			Msg("gRPC stream closed")
		return err
	}
}
