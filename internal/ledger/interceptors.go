package ledger

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
)

// LoggingInterceptor logs every unary ledger call with its duration and
// outcome. Observability hooks are passed into Dial explicitly; the
// connection is never patched after construction.
func LoggingInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			slog.Warn("Ledger call failed", "method", method, "duration", time.Since(start), "error", err)
			return err
		}
		slog.Debug("Ledger call", "method", method, "duration", time.Since(start))
		return nil
	}
}
