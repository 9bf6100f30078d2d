package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/analytics"
	"github.com/Wuchinator/litetics/internal/config"
	"github.com/Wuchinator/litetics/internal/event"
	"github.com/Wuchinator/litetics/pkg/kafka"
	"github.com/Wuchinator/litetics/pkg/logger"
	"github.com/Wuchinator/litetics/pkg/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "analytics-service")
	log.Info("Starting Analytics Service",
		zap.String("environment", cfg.Environment),
		zap.String("consumer_group", cfg.Kafka.ConsumerGroup),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.Postgres.PostgresDSN(),
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnectAttempts: cfg.Postgres.ConnectAttempts,
		ConnectBackoff:  cfg.Postgres.ConnectBackoff,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	hits := event.NewRepository(db.DB, log)
	rollups := analytics.NewRepository(db.DB, log)
	for _, schema := range []interface{ EnsureSchema(context.Context) error }{hits, rollups} {
		if err := schema.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare schema", zap.Error(err))
		}
	}

	analyticsService := analytics.NewService(hits, rollups, log)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:           cfg.Kafka.Brokers,
		Topics:            []string{cfg.Kafka.Topic},
		GroupID:           cfg.Kafka.ConsumerGroup,
		AutoCommit:        true,
		CommitInterval:    1 * time.Second,
		SessionTimeout:    10 * time.Second,
		RebalanceStrategy: "sticky",
		ProcessAttempts:   3,
		RetryBackoff:      500 * time.Millisecond,
	}, analyticsService.MessageHandler(), logger.WithComponent(log, "consumer"))
	if err != nil {
		log.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil {
			log.Error("Consumer error", zap.Error(err))
			stop()
		}
	}()

	select {
	case <-consumer.Ready():
		log.Info("Kafka consumer is ready and consuming messages")
	case <-ctx.Done():
	}

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("consumer shutdown timed out")
	}
	log.Info("Analytics Service stopped")
}
