// Package postgres opens the shared hit database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// Config for the pool. ConnectAttempts bounds the startup pings; the wait between them
// grows by ConnectBackoff.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// New opens the pool and waits until the server answers, so services can start
// alongside their database.
func New(ctx context.Context, config Config, logger *zap.Logger) (*DB, error) {
	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not open postgres: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := waitReady(ctx, db.DB, config.ConnectAttempts, config.ConnectBackoff, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQL connected",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

func waitReady(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration, logger *zap.Logger) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := time.Duration(attempt) * backoff
		logger.Warn("postgres not ready",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("could not ping postgres: %w", ctx.Err())
		}
	}
	return fmt.Errorf("could not ping postgres after %d attempts: %w", attempts, err)
}

// Close logs the final pool counters before closing.
func (db *DB) Close() error {
	db.logger.Info("postgres pool stats", poolFields(db.Stats())...)
	if err := db.DB.Close(); err != nil {
		db.logger.Error("could not close database", zap.Error(err))
		return fmt.Errorf("could not close postgres connection: %w", err)
	}
	db.logger.Info("postgres connection closed")
	return nil
}

func poolFields(stats sql.DBStats) []zap.Field {
	return []zap.Field{
		zap.Int("open_connections", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
		zap.Int64("wait_count", stats.WaitCount),
		zap.Duration("wait_duration", stats.WaitDuration),
		zap.Int64("max_lifetime_closed", stats.MaxLifetimeClosed),
	}
}
