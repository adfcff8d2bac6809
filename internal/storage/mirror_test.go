package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softhub/internal/models"
)

func testItem(slug string) *models.CatalogItem {
	return &models.CatalogItem{
		Slug:        slug,
		Name:        "Item " + slug,
		Summary:     "summary of " + slug,
		Version:     "2.1.0",
		Type:        "freeware",
		Developer:   "Acme",
		DownloadURL: "https://cdn.example.com/" + slug + ".zip",
		SizeInBytes: 1048576,
		Featured:    true,
		Platforms:   []string{"linux", "windows"},
		Categories:  []string{"utilities"},
		Stats:       map[string]int64{"downloads": 42},
		Media:       models.ItemMedia{LogoURL: "https://cdn.example.com/" + slug + ".png"},
		Requirements: models.ItemRequirements{
			Minimum: []string{"4 GB RAM"},
		},
		Changelog: []models.ChangelogEntry{
			{Version: "2.1.0", Date: "2026-02-01", Highlights: []string{"faster startup"}},
		},
	}
}

// runMirrorSuite exercises the Mirror contract against any backend. The
// mirror must start empty.
func runMirrorSuite(t *testing.T, m Mirror) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		slugs, err := m.ListSlugs(ctx)
		require.NoError(t, err)
		assert.Empty(t, slugs)

		_, err = m.GetItem(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		require.NoError(t, m.UpsertItems(ctx, []*models.CatalogItem{testItem("c"), testItem("a"), testItem("b")}))

		slugs, err := m.ListSlugs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, slugs)

		got, err := m.GetItem(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "Item b", got.Name)
		assert.Equal(t, []string{"linux", "windows"}, got.Platforms)
		assert.Equal(t, int64(42), got.Stats["downloads"])
		assert.Equal(t, "https://cdn.example.com/b.png", got.Media.LogoURL)
		assert.Equal(t, []string{"4 GB RAM"}, got.Requirements.Minimum)
		require.Len(t, got.Changelog, 1)
		assert.Equal(t, "2.1.0", got.Changelog[0].Version)
		assert.True(t, got.Featured)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("UpsertOverwritesRow", func(t *testing.T) {
		replacement := &models.CatalogItem{Slug: "a", Name: "Renamed"}
		require.NoError(t, m.UpsertItems(ctx, []*models.CatalogItem{replacement}))

		got, err := m.GetItem(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Empty(t, got.Summary)
		assert.Empty(t, got.Platforms)
		assert.Empty(t, got.Changelog)
		assert.False(t, got.Featured)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, m.DeleteItems(ctx, []string{"a", "c", "never-existed"}))

		slugs, err := m.ListSlugs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, slugs)

		_, err = m.GetItem(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("EmptyBatches", func(t *testing.T) {
		assert.NoError(t, m.UpsertItems(ctx, nil))
		assert.NoError(t, m.DeleteItems(ctx, nil))
	})

	t.Run("LargeBatch", func(t *testing.T) {
		items := make([]*models.CatalogItem, 0, 150)
		for i := range 150 {
			items = append(items, testItem(fmt.Sprintf("bulk-%03d", i)))
		}
		require.NoError(t, m.UpsertItems(ctx, items))

		slugs, err := m.ListSlugs(ctx)
		require.NoError(t, err)
		assert.Len(t, slugs, 151)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, m.Ping(ctx))
	})
}
