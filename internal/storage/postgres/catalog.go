// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mohfw-pdf-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CatalogConfig controls the Postgres connection pool and table names.
type CatalogConfig struct {
	DSN             string
	Table           string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Catalog indexes archived documents and crawl runs in Postgres.
type Catalog struct {
	pool      execCloser
	table     string
	runsTable string
	runID     string
}

// NewCatalog connects to Postgres using the provided config.
func NewCatalog(ctx context.Context, cfg CatalogConfig, runID string) (*Catalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.postgres.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c, err := NewCatalogWithPool(pool, cfg.Table, cfg.RunsTable, runID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// NewCatalogWithPool constructs a catalog from an existing pool (primarily for testing).
func NewCatalogWithPool(pool execCloser, table, runsTable, runID string) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "documents"
	}
	if runsTable == "" {
		runsTable = "crawl_runs"
	}
	for _, name := range []string{table, runsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &Catalog{pool: pool, table: table, runsTable: runsTable, runID: runID}, nil
}

// Close releases the underlying pool resources.
func (c *Catalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// EnsureSchema creates the catalog tables when they do not exist yet.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	documents := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	file_name        TEXT PRIMARY KEY,
	download_url     TEXT NOT NULL,
	source_authority TEXT NOT NULL,
	tier             TEXT NOT NULL,
	crawl_date       DATE NOT NULL,
	file_size_kb     DOUBLE PRECISION NOT NULL,
	location         TEXT NOT NULL,
	run_id           TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`, c.table)
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	seed_url    TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL,
	stats       JSONB
)`, c.runsTable)
	for _, stmt := range []string{documents, runs} {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create catalog schema: %w", err)
		}
	}
	return nil
}

// RecordDocument upserts one archived document keyed by file name, so a
// re-archived name points at its latest source.
func (c *Catalog) RecordDocument(ctx context.Context, record crawler.DocumentRecord, location string) error {
	if record.FileName == "" {
		return fmt.Errorf("file name is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	file_name,
	download_url,
	source_authority,
	tier,
	crawl_date,
	file_size_kb,
	location,
	run_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (file_name) DO UPDATE SET
	download_url = EXCLUDED.download_url,
	source_authority = EXCLUDED.source_authority,
	tier = EXCLUDED.tier,
	crawl_date = EXCLUDED.crawl_date,
	file_size_kb = EXCLUDED.file_size_kb,
	location = EXCLUDED.location,
	run_id = EXCLUDED.run_id,
	updated_at = now()`, c.table)

	args := []any{
		record.FileName,
		record.DownloadURL,
		record.SourceAuthority,
		record.Tier,
		record.CrawlDate,
		record.FileSizeKB,
		location,
		c.runID,
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// StartRun inserts a running crawl run.
func (c *Catalog) StartRun(ctx context.Context, runID, seedURL string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, seed_url, started_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, c.runsTable)
	if _, err := c.pool.Exec(ctx, query, runID, seedURL, startedAt, string(crawler.RunRunning)); err != nil {
		return fmt.Errorf("insert crawl run: %w", err)
	}
	return nil
}

// CompleteRun stores the final status and statistics of a run.
func (c *Catalog) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status crawler.RunStatus,
	snapshot crawler.StatsSnapshot,
) error {
	stats, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, stats = $3
WHERE id = $4`, c.runsTable)
	tag, err := c.pool.Exec(ctx, query, finishedAt, string(status), stats, runID)
	if err != nil {
		return fmt.Errorf("complete crawl run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete crawl run: run %q not found", runID)
	}
	return nil
}
