package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryLoggingInterceptor пишет каждый вызов в лог и превращает панику в codes.Internal.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in grpc handler", zap.String("method", info.FullMethod), zap.Any("panic", r))
				err = status.Errorf(codes.Internal, "internal error")
			}
			logger.Debug("grpc call",
				zap.String("method", info.FullMethod),
				zap.String("tx_id", incomingTransactionID(ctx)),
				zap.Duration("took", time.Since(start)),
				zap.String("code", status.Code(err).String()))
		}()

		return handler(ctx, req)
	}
}

// incomingTransactionID - ID транзакции из метаданных (в gRPC заголовки в нижнем регистре).
func incomingTransactionID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if ids := md.Get("x-transaction-id"); len(ids) > 0 {
		return ids[0]
	}
	return ""
}
