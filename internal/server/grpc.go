package server

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// NewHealthServer serves the standard gRPC health protocol for orchestrator probes.
func NewHealthServer(logger *zap.Logger) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(logger),
		recoveryInterceptor(logger)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Reflection для grpcurl и подобных инструментов
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

// ReportHealth publishes the result of check for service every interval until ctx ends.
func ReportHealth(ctx context.Context, hs *health.Server, service string, check func(context.Context) bool, interval time.Duration) {
	report := func() {
		st := grpc_health_v1.HealthCheckResponse_SERVING
		if !check(ctx) {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(service, st)
	}

	report()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report()
		case <-ctx.Done():
			hs.Shutdown()
			return
		}
	}
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			log.Error("gRPC call failed", fields...)
		} else {
			log.Debug("gRPC call", fields...)
		}

		return resp, err
	}
}

func recoveryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}
