// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the stores use. pgxmock pools satisfy it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// NewPool opens a pgxpool using cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// EnsureSchema creates the crawler tables. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, p interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS vacancies (
    id TEXT PRIMARY KEY,
    source_url_id BIGINT NOT NULL,
    hash TEXT NOT NULL,
    version INTEGER NOT NULL,
    active BOOLEAN NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    employer TEXT NOT NULL DEFAULT '',
    employment_type TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    scraped_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vacancies_source_url_id_idx ON vacancies (source_url_id);
CREATE INDEX IF NOT EXISTS vacancies_hash_idx ON vacancies (hash);
CREATE UNIQUE INDEX IF NOT EXISTS vacancies_one_active_idx ON vacancies (source_url_id) WHERE active;

CREATE TABLE IF NOT EXISTS blacklist_entries (
    id TEXT PRIMARY KEY,
    crawler_id TEXT NOT NULL,
    word TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS blacklist_entries_crawler_id_idx ON blacklist_entries (crawler_id);

CREATE TABLE IF NOT EXISTS skills (id TEXT PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS educations (id TEXT PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS locations (id TEXT PRIMARY KEY, name TEXT NOT NULL);

CREATE TABLE IF NOT EXISTS vacancy_skills (
    vacancy_id TEXT NOT NULL REFERENCES vacancies(id),
    skill_id TEXT NOT NULL REFERENCES skills(id),
    PRIMARY KEY (vacancy_id, skill_id)
);
CREATE TABLE IF NOT EXISTS vacancy_educations (
    vacancy_id TEXT NOT NULL REFERENCES vacancies(id),
    education_id TEXT NOT NULL REFERENCES educations(id),
    PRIMARY KEY (vacancy_id, education_id)
);
CREATE TABLE IF NOT EXISTS vacancy_locations (
    vacancy_id TEXT NOT NULL REFERENCES vacancies(id),
    location_id TEXT NOT NULL REFERENCES locations(id),
    PRIMARY KEY (vacancy_id, location_id)
);

CREATE TABLE IF NOT EXISTS worker_state_changes (
    id BIGSERIAL PRIMARY KEY,
    worker_id TEXT NOT NULL,
    state TEXT NOT NULL,
    changed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS worker_state_changes_worker_idx ON worker_state_changes (worker_id, id DESC);

CREATE TABLE IF NOT EXISTS flag_totals (
    flag TEXT PRIMARY KEY,
    total BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`
