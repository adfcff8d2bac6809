package storage

import (
	"context"
	"fmt"

	"softhub/internal/models"
)

// New builds the mirror selected by cfg.Type. Supported backends:
//   - memory: in-process map (development and tests)
//   - postgres: PostgreSQL through a pgx pool
//   - sqlite: single-file SQLite database
//   - supabase: Supabase table over PostgREST
//
// An empty type, or a Supabase backend without credentials, returns
// ErrNotConfigured so callers can run without a mirror.
func New(ctx context.Context, cfg models.MirrorConfig) (Mirror, error) {
	switch cfg.Type {
	case models.MirrorTypeNone:
		return nil, ErrNotConfigured
	case models.MirrorTypeMemory:
		return NewMemoryMirror(), nil
	case models.MirrorTypePostgres:
		return NewPostgresMirror(ctx, cfg.Database)
	case models.MirrorTypeSQLite:
		return NewSQLiteMirror(cfg.Database)
	case models.MirrorTypeSupabase:
		return NewSupabaseMirror(cfg.Supabase)
	default:
		return nil, fmt.Errorf("unsupported mirror type: %s", cfg.Type)
	}
}

// SupportedTypes lists the configurable backends.
func SupportedTypes() []string {
	return []string{models.MirrorTypeMemory, models.MirrorTypePostgres, models.MirrorTypeSQLite, models.MirrorTypeSupabase}
}
