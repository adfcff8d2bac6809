package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"softhub/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
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
	size_in_bytes INTEGER NOT NULL DEFAULT 0,
	release_date  TEXT NOT NULL DEFAULT '',
	is_featured   INTEGER NOT NULL DEFAULT 0,
	platforms     TEXT NOT NULL DEFAULT '[]',
	categories    TEXT NOT NULL DEFAULT '[]',
	stats         TEXT NOT NULL DEFAULT '{}',
	media         TEXT NOT NULL DEFAULT '{}',
	requirements  TEXT NOT NULL DEFAULT '{}',
	changelog     TEXT NOT NULL DEFAULT '[]',
	updated_at    TEXT NOT NULL
)`

var (
	sqliteUpsertSQL = buildUpsertSQL(func(int) string { return "?" })
	sqliteSelectSQL = "SELECT " + strings.Join(itemColumns, ", ") + " FROM software WHERE slug = ?"
)

// SQLiteMirror stores the catalog in a single SQLite file. Writes are
// serialized through one connection.
type SQLiteMirror struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteMirror opens dsn and creates the table if it does not exist.
func NewSQLiteMirror(cfg models.DatabaseConfig) (*SQLiteMirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("connection string is required for SQLite mirror")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sm := &SQLiteMirror{db: db, now: time.Now}
	if err := sm.init(); err != nil {
		db.Close()
		return nil, err
	}
	return sm, nil
}

func (sm *SQLiteMirror) init() error {
	if _, err := sm.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ListSlugs implements Mirror.
func (sm *SQLiteMirror) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, "SELECT slug FROM software ORDER BY slug")
	if err != nil {
		return nil, fmt.Errorf("failed to list slugs: %w", err)
	}
	defer rows.Close()

	slugs := []string{}
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// UpsertItems implements Mirror. The batch runs in one transaction.
func (sm *SQLiteMirror) UpsertItems(ctx context.Context, items []*models.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	now := sm.now()

	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		row, err := toRow(item, now)
		if err != nil {
			return err
		}
		args := row.args()
		args[len(args)-1] = row.UpdatedAt.Format(time.RFC3339Nano)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", item.Slug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// DeleteItems implements Mirror.
func (sm *SQLiteMirror) DeleteItems(ctx context.Context, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(slugs)), ",")
	args := make([]any, len(slugs))
	for i, slug := range slugs {
		args[i] = slug
	}

	query := "DELETE FROM software WHERE slug IN (" + placeholders + ")"
	if _, err := sm.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete %d items: %w", len(slugs), err)
	}
	return nil
}

// GetItem implements Mirror.
func (sm *SQLiteMirror) GetItem(ctx context.Context, slug string) (*models.CatalogItem, error) {
	var (
		r                                      itemRow
		platforms, categories, stats, media    string
		requirements, changelogJSON, updatedAt string
	)
	err := sm.db.QueryRowContext(ctx, sqliteSelectSQL, slug).Scan(
		&r.Slug, &r.Name, &r.Summary, &r.Description, &r.Version, &r.Type, &r.Developer, &r.License,
		&r.DownloadURL, &r.WebsiteURL, &r.SizeInBytes, &r.ReleaseDate, &r.IsFeatured,
		&platforms, &categories, &stats, &media, &requirements, &changelogJSON, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item %s: %w", slug, err)
	}

	r.Platforms, r.Categories, r.Stats = []byte(platforms), []byte(categories), []byte(stats)
	r.Media, r.Requirements, r.Changelog = []byte(media), []byte(requirements), []byte(changelogJSON)
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("item %s updated_at: %w", slug, err)
	}
	return r.toItem()
}

// Ping implements Mirror.
func (sm *SQLiteMirror) Ping(ctx context.Context) error {
	return sm.db.PingContext(ctx)
}

// Close implements Mirror.
func (sm *SQLiteMirror) Close() error {
	return sm.db.Close()
}
