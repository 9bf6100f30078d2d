package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/config"
	"github.com/Wuchinator/litetics/internal/event"
	"github.com/Wuchinator/litetics/internal/ping"
	"github.com/Wuchinator/litetics/internal/refdata"
	"github.com/Wuchinator/litetics/internal/server"
	"github.com/Wuchinator/litetics/pkg/kafka"
	"github.com/Wuchinator/litetics/pkg/logger"
	"github.com/Wuchinator/litetics/pkg/postgres"
	"github.com/Wuchinator/litetics/pkg/redis"
	"github.com/Wuchinator/litetics/pkg/sqlite"
)

const serviceName = "ingest-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Error initializing logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, serviceName)
	log.Info("Starting Ingest Service",
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("sink", cfg.Ingest.Sink),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closer, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Error initializing sink", zap.String("sink", cfg.Ingest.Sink), zap.Error(err))
	}
	defer closer.Close()

	var opts []event.NormalizerOption
	if cfg.Ingest.RefdataDir != "" {
		tables, err := refdata.LoadDir(cfg.Ingest.RefdataDir)
		if err != nil {
			log.Fatal("Error loading reference tables", zap.String("dir", cfg.Ingest.RefdataDir), zap.Error(err))
		}
		opts = append(opts, event.WithTables(tables))
		log.Info("Reference tables loaded", zap.String("dir", cfg.Ingest.RefdataDir))
	}

	normalizer := event.NewNormalizer(logger.WithComponent(log, "normalizer"), opts...)
	eventService := event.NewService(normalizer, store, log)

	router := server.NewRouter(server.Handlers{
		Hits: event.NewHandler(eventService, cfg.Ingest.MaxBodyBytes, log),
		Ping: ping.NewHandler(ping.NewProber(logger.WithComponent(log, "ping")), log),
	}, server.Options{
		AllowedOrigins: cfg.Ingest.CORSAllowedOrigins,
		RateLimitRPS:   cfg.Ingest.RateLimitRPS,
		RateLimitBurst: cfg.Ingest.RateLimitBurst,
	}, logger.WithComponent(log, "http"))

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer, healthServer := server.NewHealthServer(logger.WithComponent(log, "grpc"))
	listener, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
	if err != nil {
		log.Fatal("Error initializing gRPC listener", zap.Error(err))
	}

	go server.ReportHealth(ctx, healthServer, serviceName, func(ctx context.Context) bool {
		healthy, _ := eventService.HealthCheck(ctx)
		return healthy
	}, 15*time.Second)

	go func() {
		log.Info("Starting gRPC health server", zap.String("port", cfg.GRPCHealthPort))
		if err := grpcServer.Serve(listener); err != nil {
			log.Error("gRPC server failed", zap.Error(err))
			stop()
		}
	}()

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown timed out", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn("shutdown gRPC server timed out")
		grpcServer.Stop()
	}
	log.Info("Ingest Service stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (event.Store, io.Closer, error) {
	switch cfg.Ingest.Sink {
	case config.SinkSQLite:
		db, err := sqlite.New(ctx, cfg.SQLite.Path, log)
		if err != nil {
			return nil, nil, err
		}
		repo := event.NewRepository(db.DB, log)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil

	case config.SinkRedis:
		client, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return event.NewRedisStore(client.Client, cfg.Redis.HitTTL, log), client, nil

	case config.SinkKafka:
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Retries:          cfg.Kafka.ProducerRetries,
			Timeout:          cfg.Kafka.ProducerTimeout,
			RequiredAcks:     cfg.Kafka.RequiredAcks,
			Compression:      cfg.Kafka.CompressionType,
			IdempotentWrites: cfg.Kafka.IdempotentWrites,
			MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return event.NewPublisher(producer, log), producer, nil

	default:
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.PostgresDSN(),
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnectAttempts: cfg.Postgres.ConnectAttempts,
			ConnectBackoff:  cfg.Postgres.ConnectBackoff,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		repo := event.NewRepository(db.DB, log)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	}
}
