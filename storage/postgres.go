package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"estate-harvester/utils"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	pingAttempts    = 10
	pingInterval    = 2 * time.Second
)

// Postgres is the PostgreSQL implementation of Store.
type Postgres struct {
	db     *sqlx.DB
	logger utils.Logger
}

// OpenPostgres connects to PostgreSQL, waits for it to accept connections,
// runs schema migrations and returns a ready-to-use store.
func OpenPostgres(ctx context.Context, dsn string, logger utils.Logger) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	for i := 0; i < pingAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("Database not ready, retrying", utils.Int("attempt", i+1), utils.Err(err))
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(pingInterval):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	p := NewPostgres(db, logger)
	if err := p.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return p, nil
}

// NewPostgres wraps an existing connection without migrating it.
func NewPostgres(db *sqlx.DB, logger utils.Logger) *Postgres {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sources (
			id         BIGSERIAL PRIMARY KEY,
			code       TEXT        UNIQUE NOT NULL,
			name       TEXT        NOT NULL DEFAULT '',
			base_url   TEXT        NOT NULL DEFAULT '',
			kind       TEXT        NOT NULL,
			fetch_mode TEXT        NOT NULL DEFAULT 'http',
			options    JSONB       NOT NULL DEFAULT '{}',
			is_active  BOOLEAN     NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS listings (
			id            BIGSERIAL PRIMARY KEY,
			source_id     BIGINT        NOT NULL REFERENCES sources(id),
			external_id   TEXT          NOT NULL,
			url           TEXT          NOT NULL,
			title         TEXT          NOT NULL,
			description   TEXT          NOT NULL DEFAULT '',
			location_text TEXT          NOT NULL DEFAULT '',
			district      TEXT          NOT NULL DEFAULT '',
			municipality  TEXT          NOT NULL DEFAULT '',
			region        TEXT          NOT NULL DEFAULT '',
			property_type TEXT          NOT NULL DEFAULT 'other',
			offer_type    TEXT          NOT NULL DEFAULT 'sale',
			price         NUMERIC(14,2) NOT NULL DEFAULT 0,
			currency      TEXT          NOT NULL DEFAULT '',
			floor_area    NUMERIC(10,2) NOT NULL DEFAULT 0,
			land_area     NUMERIC(12,2) NOT NULL DEFAULT 0,
			rooms         INTEGER       NOT NULL DEFAULT 0,
			condition     TEXT          NOT NULL DEFAULT 'unknown',
			construction  TEXT          NOT NULL DEFAULT 'unknown',
			first_seen_at TIMESTAMPTZ   NOT NULL,
			last_seen_at  TIMESTAMPTZ   NOT NULL,
			is_active     BOOLEAN       NOT NULL DEFAULT TRUE,
			UNIQUE (source_id, external_id),
			CHECK (first_seen_at <= last_seen_at)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_active   ON listings(source_id) WHERE is_active;
		CREATE INDEX IF NOT EXISTS idx_listings_price    ON listings(price);
		CREATE INDEX IF NOT EXISTS idx_listings_district ON listings(district);

		CREATE TABLE IF NOT EXISTS listing_photos (
			listing_id BIGINT  NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			position   INTEGER NOT NULL,
			url        TEXT    NOT NULL,
			PRIMARY KEY (listing_id, position)
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT        PRIMARY KEY,
			source_codes  TEXT[]      NOT NULL,
			full_rescan   BOOLEAN     NOT NULL DEFAULT FALSE,
			trigger_name  TEXT        NOT NULL DEFAULT '',
			status        TEXT        NOT NULL,
			progress      INTEGER     NOT NULL DEFAULT 0,
			seen          INTEGER     NOT NULL DEFAULT 0,
			new_count     INTEGER     NOT NULL DEFAULT 0,
			updated_count INTEGER     NOT NULL DEFAULT 0,
			deactivated   INTEGER     NOT NULL DEFAULT 0,
			errors        INTEGER     NOT NULL DEFAULT 0,
			rejected      INTEGER     NOT NULL DEFAULT 0,
			error_message TEXT        NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at    TIMESTAMPTZ,
			finished_at   TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);

		CREATE TABLE IF NOT EXISTS run_records (
			id            BIGSERIAL PRIMARY KEY,
			job_id        TEXT        NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			source_id     BIGINT      NOT NULL REFERENCES sources(id),
			source_code   TEXT        NOT NULL,
			status        TEXT        NOT NULL,
			seen          INTEGER     NOT NULL DEFAULT 0,
			new_count     INTEGER     NOT NULL DEFAULT 0,
			updated_count INTEGER     NOT NULL DEFAULT 0,
			deactivated   INTEGER     NOT NULL DEFAULT 0,
			errors        INTEGER     NOT NULL DEFAULT 0,
			rejected      INTEGER     NOT NULL DEFAULT 0,
			rejections    JSONB       NOT NULL DEFAULT '{}',
			error_classes JSONB       NOT NULL DEFAULT '{}',
			error_message TEXT        NOT NULL DEFAULT '',
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_run_records_job ON run_records(job_id);
	`)
	return err
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// DB exposes the pool for health checks.
func (p *Postgres) DB() *sqlx.DB {
	return p.db
}
