package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"softhub/internal/models"
)

// MemoryMirror keeps the catalog in process memory. It is meant for
// development and tests; contents are lost on restart.
type MemoryMirror struct {
	mu    sync.RWMutex
	items map[string]*models.CatalogItem
	now   func() time.Time
}

// NewMemoryMirror creates an empty mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{
		items: make(map[string]*models.CatalogItem),
		now:   time.Now,
	}
}

// ListSlugs implements Mirror.
func (m *MemoryMirror) ListSlugs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slugs := make([]string, 0, len(m.items))
	for slug := range m.items {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// UpsertItems implements Mirror.
func (m *MemoryMirror) UpsertItems(ctx context.Context, items []*models.CatalogItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		// Store a copy to prevent external modification
		c := item.Clone()
		c.UpdatedAt = now
		m.items[c.Slug] = c
	}
	return nil
}

// DeleteItems implements Mirror.
func (m *MemoryMirror) DeleteItems(ctx context.Context, slugs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, slug := range slugs {
		delete(m.items, slug)
	}
	return nil
}

// GetItem implements Mirror.
func (m *MemoryMirror) GetItem(ctx context.Context, slug string) (*models.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

func (m *MemoryMirror) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryMirror) Close() error {
	return nil
}
