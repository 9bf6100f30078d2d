package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// New opens the database file at path, creating it when missing. SQLite allows a single
// writer, so the pool is limited to one connection.
func New(ctx context.Context, path string, logger *zap.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ping sqlite: %w", err)
	}

	logger.Info("SQLite opened", zap.String("path", path))
	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		db.logger.Error("could not close database", zap.Error(err))
		return fmt.Errorf("could not close sqlite: %w", err)
	}
	db.logger.Info("sqlite closed")
	return nil
}
