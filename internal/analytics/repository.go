package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/event"
)

var postgresSchema = `
	CREATE TABLE IF NOT EXISTS hit_rollups (
		id BIGSERIAL PRIMARY KEY,
		date DATE NOT NULL,
		hour SMALLINT NOT NULL,
		host TEXT NOT NULL,
		type TEXT NOT NULL,
		total_hits BIGINT NOT NULL DEFAULT 0,
		unique_users BIGINT NOT NULL DEFAULT 0,
		unique_pages BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (date, hour, host, type)
	)`

var sqliteSchema = `
	CREATE TABLE IF NOT EXISTS hit_rollups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date DATETIME NOT NULL,
		hour INTEGER NOT NULL,
		host TEXT NOT NULL,
		type TEXT NOT NULL,
		total_hits INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		unique_pages INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		UNIQUE (date, hour, host, type)
	)`

const upsertRollup = `
	INSERT INTO hit_rollups (date, hour, host, type, total_hits, unique_users, unique_pages, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (date, hour, host, type)
	DO UPDATE SET
		total_hits = hit_rollups.total_hits + EXCLUDED.total_hits,
		unique_users = hit_rollups.unique_users + EXCLUDED.unique_users,
		unique_pages = hit_rollups.unique_pages + EXCLUDED.unique_pages,
		updated_at = EXCLUDED.updated_at
	RETURNING id`

type Repository interface {
	EnsureSchema(ctx context.Context) error
	// RecordHit stores ev and adds it to its hourly rollup atomically. A hit that is
	// already stored is event.ErrDuplicateEvent and leaves the rollup untouched.
	RecordHit(ctx context.Context, ev *event.Event) error
}

type repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRepository keeps rollups next to the hits table; both must live in db.
func NewRepository(db *sqlx.DB, logger *zap.Logger) Repository {
	return &repository{
		db:     db,
		logger: logger,
	}
}

func (r *repository) EnsureSchema(ctx context.Context) error {
	schema := postgresSchema
	if r.db.DriverName() == "sqlite" {
		schema = sqliteSchema
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create rollup schema: %w", err)
	}
	return nil
}

func (r *repository) RecordHit(ctx context.Context, ev *event.Event) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := event.InsertHit(ctx, tx, ev); err != nil {
		return err
	}

	rollup := RollupFor(ev)
	if err := r.upsert(ctx, tx, rollup); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hit: %w", err)
	}

	r.logger.Debug("Rollup upserted",
		zap.Int64("rollup_id", rollup.ID),
		zap.String("date", rollup.Date.Format(time.DateOnly)),
		zap.Int("hour", rollup.Hour),
		zap.String("host", rollup.Host),
		zap.String("type", rollup.Type),
	)
	return nil
}

func (r *repository) upsert(ctx context.Context, q sqlx.QueryerContext, rollup *Rollup) error {
	err := sqlx.QueryRowxContext(
		ctx,
		q,
		r.db.Rebind(upsertRollup),
		rollup.Date,
		rollup.Hour,
		rollup.Host,
		rollup.Type,
		rollup.TotalHits,
		rollup.UniqueUsers,
		rollup.UniquePages,
		rollup.UpdatedAt,
	).Scan(&rollup.ID)
	if err != nil {
		r.logger.Error("Failed to upsert rollup", zap.Error(err))
		return fmt.Errorf("failed to upsert rollup: %w", err)
	}
	return nil
}
