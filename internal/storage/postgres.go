package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"softhub/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS software (
	slug          TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	version       TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL DEFAULT '',
	developer     TEXT NOT NULL DEFAULT '',
	license       TEXT NOT NULL DEFAULT '',
	download_url  TEXT NOT NULL DEFAULT '',
	website_url   TEXT NOT NULL DEFAULT '',
	size_in_bytes BIGINT NOT NULL DEFAULT 0,
	release_date  TEXT NOT NULL DEFAULT '',
	is_featured   BOOLEAN NOT NULL DEFAULT FALSE,
	platforms     JSONB NOT NULL DEFAULT '[]',
	categories    JSONB NOT NULL DEFAULT '[]',
	stats         JSONB NOT NULL DEFAULT '{}',
	media         JSONB NOT NULL DEFAULT '{}',
	requirements  JSONB NOT NULL DEFAULT '{}',
	changelog     JSONB NOT NULL DEFAULT '[]',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_software_is_featured ON software (is_featured) WHERE is_featured;
`

var (
	pgUpsertSQL = buildUpsertSQL(func(i int) string {
		switch itemColumns[i-1] {
		case "platforms", "categories", "stats", "media", "requirements", "changelog":
			return fmt.Sprintf("$%d::jsonb", i)
		}
		return fmt.Sprintf("$%d", i)
	})
	pgSelectSQL = "SELECT " + strings.Join(itemColumns, ", ") + " FROM software WHERE slug = $1"
)

// buildUpsertSQL renders an INSERT ... ON CONFLICT (slug) DO UPDATE that
// overwrites every non-key column.
func buildUpsertSQL(placeholder func(i int) string) string {
	values := make([]string, len(itemColumns))
	sets := make([]string, 0, len(itemColumns)-1)
	for i, col := range itemColumns {
		values[i] = placeholder(i + 1)
		if col != "slug" {
			sets = append(sets, col+" = excluded."+col)
		}
	}
	return "INSERT INTO software (" + strings.Join(itemColumns, ", ") + ") VALUES (" +
		strings.Join(values, ", ") + ") ON CONFLICT (slug) DO UPDATE SET " + strings.Join(sets, ", ")
}

// PostgresMirror stores the catalog in a PostgreSQL table through a pgx pool.
// Each upsert batch is sent as one pgx.Batch inside its own transaction.
type PostgresMirror struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresMirror connects, pings and makes sure the table exists.
func NewPostgresMirror(ctx context.Context, cfg models.DatabaseConfig) (*PostgresMirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL mirror")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresMirror{pool: pool, now: time.Now}, nil
}

// ListSlugs implements Mirror.
func (pm *PostgresMirror) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := pm.pool.Query(ctx, "SELECT slug FROM software ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("failed to list slugs: %w", err)
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan slugs: %w", err)
	}
	return slugs, nil
}

// UpsertItems implements Mirror.
func (pm *PostgresMirror) UpsertItems(ctx context.Context, items []*models.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	now := pm.now()

	batch := &pgx.Batch{}
	for _, item := range items {
		row, err := toRow(item, now)
		if err != nil {
			return err
		}
		batch.Queue(pgUpsertSQL, row.args()...)
	}

	return pgx.BeginFunc(ctx, pm.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for _, item := range items {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to upsert %s: %w", item.Slug, err)
			}
		}
		return br.Close()
	})
}

// DeleteItems implements Mirror.
func (pm *PostgresMirror) DeleteItems(ctx context.Context, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}
	if _, err := pm.pool.Exec(ctx, "DELETE FROM software WHERE slug = ANY($1)", slugs); err != nil {
		return fmt.Errorf("failed to delete %d items: %w", len(slugs), err)
	}
	return nil
}

// GetItem implements Mirror.
func (pm *PostgresMirror) GetItem(ctx context.Context, slug string) (*models.CatalogItem, error) {
	var (
		r                                  itemRow
		platforms, categories, stats       []byte
		media, requirements, changelogJSON []byte
	)
	err := pm.pool.QueryRow(ctx, pgSelectSQL, slug).Scan(
		&r.Slug, &r.Name, &r.Summary, &r.Description, &r.Version, &r.Type, &r.Developer, &r.License,
		&r.DownloadURL, &r.WebsiteURL, &r.SizeInBytes, &r.ReleaseDate, &r.IsFeatured,
		&platforms, &categories, &stats, &media, &requirements, &changelogJSON, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item %s: %w", slug, err)
	}
	r.Platforms, r.Categories, r.Stats = platforms, categories, stats
	r.Media, r.Requirements, r.Changelog = media, requirements, changelogJSON
	return r.toItem()
}

// Ping implements Mirror.
func (pm *PostgresMirror) Ping(ctx context.Context) error {
	return pm.pool.Ping(ctx)
}

// Close implements Mirror.
func (pm *PostgresMirror) Close() error {
	pm.pool.Close()
	return nil
}
