package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-limit-ledger/pkg/metrics"
)

// UnaryServerInterceptor 記錄每次呼叫的耗時與狀態碼
func UnaryServerInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)

		metrics.RecordGRPCRequest(info.FullMethod, code.String(), elapsed)
		logger.Debug("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("elapsed", elapsed))
		return resp, err
	}
}
