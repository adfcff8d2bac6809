package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"softhub/internal/models"
)

// FileOrigin reads the dataset as a single JSON array from disk. The parsed
// file is cached until its modification time changes.
type FileOrigin struct {
	path string

	mu           sync.Mutex
	items        []*models.CatalogItem
	lastModified time.Time
}

func NewFileOrigin(path string) (*FileOrigin, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required for file origin")
	}
	return &FileOrigin{path: path}, nil
}

// FetchAll implements Origin. Returned items are copies.
func (f *FileOrigin) FetchAll(ctx context.Context) ([]*models.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	if f.items == nil || info.ModTime().After(f.lastModified) {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		var items []*models.CatalogItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		if items == nil {
			items = []*models.CatalogItem{}
		}
		f.items = items
		f.lastModified = info.ModTime()
	}

	out := make([]*models.CatalogItem, len(f.items))
	for i, item := range f.items {
		out[i] = item.Clone()
	}
	return out, nil
}
