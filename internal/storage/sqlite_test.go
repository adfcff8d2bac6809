package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"softhub/internal/models"
)

func newSQLiteTestMirror(t *testing.T) *SQLiteMirror {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	m, err := NewSQLiteMirror(models.DatabaseConfig{DSN: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSQLiteMirror(t *testing.T) {
	runMirrorSuite(t, newSQLiteTestMirror(t))
}

func TestSQLiteMirror_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "mirror.db")
	ctx := context.Background()

	m, err := NewSQLiteMirror(models.DatabaseConfig{DSN: dbPath})
	require.NoError(t, err)
	require.NoError(t, m.UpsertItems(ctx, []*models.CatalogItem{testItem("persisted")}))
	require.NoError(t, m.Close())

	m, err = NewSQLiteMirror(models.DatabaseConfig{DSN: dbPath})
	require.NoError(t, err)
	defer m.Close()

	got, err := m.GetItem(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "Item persisted", got.Name)
}

func TestSQLiteMirrorErrors(t *testing.T) {
	_, err := NewSQLiteMirror(models.DatabaseConfig{})
	assert.Error(t, err)

	m := newSQLiteTestMirror(t)
	require.NoError(t, m.Close())
	_, err = m.ListSlugs(context.Background())
	assert.Error(t, err)
}
