package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pqUniqueViolation = "23505"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS hits (
		id UUID PRIMARY KEY,
		bid TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		host TEXT NOT NULL,
		path TEXT NOT NULL,
		query_string TEXT,
		is_unique_user BOOLEAN NOT NULL,
		is_unique_page BOOLEAN NOT NULL,
		type TEXT NOT NULL,
		duration_ms BIGINT,
		timezone TEXT,
		country TEXT,
		user_agent TEXT,
		browser_name TEXT,
		browser_version TEXT,
		browser_engine_name TEXT,
		browser_engine_version TEXT,
		device_type TEXT,
		device_vendor TEXT,
		device_model TEXT,
		cpu_architecture TEXT,
		os_name TEXT,
		os_version TEXT,
		referrer TEXT,
		referrer_host TEXT,
		referrer_path TEXT,
		referrer_query_string TEXT,
		referrer_known BOOLEAN,
		referrer_medium TEXT,
		referrer_name TEXT,
		referrer_search_parameter TEXT,
		referrer_search_term TEXT,
		accept_language TEXT,
		language_code TEXT,
		language_script TEXT,
		language_region TEXT,
		secondary_language_code TEXT,
		secondary_language_script TEXT,
		secondary_language_region TEXT,
		utm_campaign TEXT,
		utm_medium TEXT,
		utm_source TEXT,
		additional JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS hits_bid_idx ON hits (bid, received_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS hits (
		id TEXT PRIMARY KEY,
		bid TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		host TEXT NOT NULL,
		path TEXT NOT NULL,
		query_string TEXT,
		is_unique_user BOOLEAN NOT NULL,
		is_unique_page BOOLEAN NOT NULL,
		type TEXT NOT NULL,
		duration_ms INTEGER,
		timezone TEXT,
		country TEXT,
		user_agent TEXT,
		browser_name TEXT,
		browser_version TEXT,
		browser_engine_name TEXT,
		browser_engine_version TEXT,
		device_type TEXT,
		device_vendor TEXT,
		device_model TEXT,
		cpu_architecture TEXT,
		os_name TEXT,
		os_version TEXT,
		referrer TEXT,
		referrer_host TEXT,
		referrer_path TEXT,
		referrer_query_string TEXT,
		referrer_known BOOLEAN,
		referrer_medium TEXT,
		referrer_name TEXT,
		referrer_search_parameter TEXT,
		referrer_search_term TEXT,
		accept_language TEXT,
		language_code TEXT,
		language_script TEXT,
		language_region TEXT,
		secondary_language_code TEXT,
		secondary_language_script TEXT,
		secondary_language_region TEXT,
		utm_campaign TEXT,
		utm_medium TEXT,
		utm_source TEXT,
		additional TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS hits_bid_idx ON hits (bid, received_at DESC)`,
}

const insertHit = `
	INSERT INTO hits (
		id, bid, received_at, host, path, query_string, is_unique_user, is_unique_page, type,
		duration_ms, timezone, country, user_agent, browser_name, browser_version,
		browser_engine_name, browser_engine_version, device_type, device_vendor, device_model,
		cpu_architecture, os_name, os_version, referrer, referrer_host, referrer_path,
		referrer_query_string, referrer_known, referrer_medium, referrer_name,
		referrer_search_parameter, referrer_search_term, accept_language, language_code,
		language_script, language_region, secondary_language_code, secondary_language_script,
		secondary_language_region, utm_campaign, utm_medium, utm_source, additional
	) VALUES (
		:id, :bid, :received_at, :host, :path, :query_string, :is_unique_user, :is_unique_page, :type,
		:duration_ms, :timezone, :country, :user_agent, :browser_name, :browser_version,
		:browser_engine_name, :browser_engine_version, :device_type, :device_vendor, :device_model,
		:cpu_architecture, :os_name, :os_version, :referrer, :referrer_host, :referrer_path,
		:referrer_query_string, :referrer_known, :referrer_medium, :referrer_name,
		:referrer_search_parameter, :referrer_search_term, :accept_language, :language_code,
		:language_script, :language_region, :secondary_language_code, :secondary_language_script,
		:secondary_language_region, :utm_campaign, :utm_medium, :utm_source, :additional
	)`

// Only the latest open hit of a beacon is completed; ids may collide across visitors.
const updateDuration = `
	UPDATE hits SET duration_ms = ?
	WHERE id = (
		SELECT id FROM hits
		WHERE bid = ? AND duration_ms IS NULL
		ORDER BY received_at DESC
		LIMIT 1
	)`

type Repository interface {
	Store
	Pinger
	EnsureSchema(ctx context.Context) error
}

type repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRepository stores hits in a SQL database. Postgres ("postgres") and SQLite
// ("sqlite") connections are supported.
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
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create hits schema: %w", err)
		}
	}
	return nil
}

func (r *repository) Persist(ctx context.Context, ev *Event) error {
	if err := InsertHit(ctx, r.db, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			r.logger.Warn("duplicate hit ignored", zap.String("id", ev.ID.String()))
		}
		return err
	}

	r.logger.Debug("hit stored",
		zap.String("id", ev.ID.String()),
		zap.String("bid", ev.BeaconID),
	)
	return nil
}

// InsertHit writes ev through ext, which may be a transaction. A repeated id is
// ErrDuplicateEvent.
func InsertHit(ctx context.Context, ext sqlx.ExtContext, ev *Event) error {
	if _, err := sqlx.NamedExecContext(ctx, ext, insertHit, ev); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert hit: %w", err)
	}
	return nil
}

func (r *repository) UpdateDuration(ctx context.Context, u *DurationUpdate) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(updateDuration), u.DurationMs, u.BeaconID)
	if err != nil {
		return fmt.Errorf("failed to update hit duration: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
