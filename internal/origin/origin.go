// Package origin reads the authoritative catalog dataset.
package origin

import (
	"context"
	"fmt"

	"softhub/internal/models"
)

// Origin returns the full dataset. There is no incremental read; callers
// treat any error as a failed fetch with no partial result.
type Origin interface {
	FetchAll(ctx context.Context) ([]*models.CatalogItem, error)
}

// New builds the origin selected by cfg.Type.
func New(cfg models.OriginConfig) (Origin, error) {
	switch cfg.Type {
	case models.OriginTypeHTTP:
		return NewHTTPOrigin(cfg)
	case models.OriginTypeFile:
		return NewFileOrigin(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported origin type: %s", cfg.Type)
	}
}
