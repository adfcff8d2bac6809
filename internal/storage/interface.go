package storage

import (
	"context"

	"softhub/internal/models"
)

// Mirror is the read-optimized copy of the catalog. The reconciler is its only
// writer; handlers read single items from it. Implementations must be safe for
// concurrent use.
type Mirror interface {
	// ListSlugs returns every mirrored slug in ascending order.
	ListSlugs(ctx context.Context) ([]string, error)

	// UpsertItems writes one batch keyed by slug. An existing row is fully
	// overwritten, never merged. Backends that support transactions apply the
	// batch atomically; there is no cross-batch transaction.
	UpsertItems(ctx context.Context, items []*models.CatalogItem) error

	// DeleteItems removes one batch of slugs. Unknown slugs are ignored.
	DeleteItems(ctx context.Context, slugs []string) error

	// GetItem returns one item or ErrNotFound.
	GetItem(ctx context.Context, slug string) (*models.CatalogItem, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}
