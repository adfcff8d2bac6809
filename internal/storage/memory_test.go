package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softhub/internal/models"
)

func TestMemoryMirror(t *testing.T) {
	m := NewMemoryMirror()
	defer m.Close()

	runMirrorSuite(t, m)
}

func TestMemoryMirror_Isolation(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()

	item := testItem("iso")
	require.NoError(t, m.UpsertItems(ctx, []*models.CatalogItem{item}))

	// Mutating the caller's copy must not reach the store
	item.Name = "changed"
	item.Platforms[0] = "plan9"

	got, err := m.GetItem(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "Item iso", got.Name)
	assert.Equal(t, "linux", got.Platforms[0])

	got.Stats["downloads"] = 0
	again, err := m.GetItem(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, int64(42), again.Stats["downloads"])
}

func TestMemoryMirror_StampsUpdatedAt(t *testing.T) {
	m := NewMemoryMirror()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	item := testItem("stamped")
	item.UpdatedAt = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.UpsertItems(context.Background(), []*models.CatalogItem{item}))

	got, err := m.GetItem(context.Background(), "stamped")
	require.NoError(t, err)
	assert.Equal(t, fixed, got.UpdatedAt)
}

func TestMemoryMirror_CanceledContext(t *testing.T) {
	m := NewMemoryMirror()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.UpsertItems(ctx, []*models.CatalogItem{testItem("x")}), context.Canceled)
	assert.ErrorIs(t, m.DeleteItems(ctx, []string{"x"}), context.Canceled)
}

func TestMemoryMirrorConcurrency(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 20 {
				slug := fmt.Sprintf("w%d-%d", n, j)
				if err := m.UpsertItems(ctx, []*models.CatalogItem{testItem(slug)}); err != nil {
					t.Errorf("upsert %s: %v", slug, err)
				}
				if _, err := m.ListSlugs(ctx); err != nil {
					t.Errorf("list: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	slugs, err := m.ListSlugs(ctx)
	require.NoError(t, err)
	assert.Len(t, slugs, 200)
}
