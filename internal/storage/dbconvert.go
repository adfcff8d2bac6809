package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"softhub/internal/models"
)

// itemColumns lists the mirror table columns in the order rows are written
// and scanned by the SQL backends.
var itemColumns = []string{
	"slug", "name", "summary", "description", "version", "type", "developer", "license",
	"download_url", "website_url", "size_in_bytes", "release_date", "is_featured",
	"platforms", "categories", "stats", "media", "requirements", "changelog", "updated_at",
}

// itemRow is the flattened, snake_case form of a CatalogItem shared by every
// backend. Nested blobs are carried as raw JSON so each backend can store them
// as jsonb, TEXT or an embedded JSON value.
type itemRow struct {
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	Summary      string          `json:"summary"`
	Description  string          `json:"description"`
	Version      string          `json:"version"`
	Type         string          `json:"type"`
	Developer    string          `json:"developer"`
	License      string          `json:"license"`
	DownloadURL  string          `json:"download_url"`
	WebsiteURL   string          `json:"website_url"`
	SizeInBytes  int64           `json:"size_in_bytes"`
	ReleaseDate  string          `json:"release_date"`
	IsFeatured   bool            `json:"is_featured"`
	Platforms    json.RawMessage `json:"platforms"`
	Categories   json.RawMessage `json:"categories"`
	Stats        json.RawMessage `json:"stats"`
	Media        json.RawMessage `json:"media"`
	Requirements json.RawMessage `json:"requirements"`
	Changelog    json.RawMessage `json:"changelog"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// toRow flattens item, stamping it with updatedAt.
func toRow(item *models.CatalogItem, updatedAt time.Time) (itemRow, error) {
	row := itemRow{
		Slug:        item.Slug,
		Name:        item.Name,
		Summary:     item.Summary,
		Description: item.Description,
		Version:     item.Version,
		Type:        item.Type,
		Developer:   item.Developer,
		License:     item.License,
		DownloadURL: item.DownloadURL,
		WebsiteURL:  item.WebsiteURL,
		SizeInBytes: item.SizeInBytes,
		ReleaseDate: item.ReleaseDate,
		IsFeatured:  item.Featured,
		UpdatedAt:   updatedAt.UTC(),
	}

	var err error
	if row.Platforms, err = marshalList(item.Platforms); err != nil {
		return row, fmt.Errorf("item %s platforms: %w", item.Slug, err)
	}
	if row.Categories, err = marshalList(item.Categories); err != nil {
		return row, fmt.Errorf("item %s categories: %w", item.Slug, err)
	}
	stats := item.Stats
	if stats == nil {
		stats = map[string]int64{}
	}
	if row.Stats, err = json.Marshal(stats); err != nil {
		return row, fmt.Errorf("item %s stats: %w", item.Slug, err)
	}
	if row.Media, err = json.Marshal(item.Media); err != nil {
		return row, fmt.Errorf("item %s media: %w", item.Slug, err)
	}
	if row.Requirements, err = json.Marshal(item.Requirements); err != nil {
		return row, fmt.Errorf("item %s requirements: %w", item.Slug, err)
	}
	changelog := item.Changelog
	if changelog == nil {
		changelog = []models.ChangelogEntry{}
	}
	if row.Changelog, err = json.Marshal(changelog); err != nil {
		return row, fmt.Errorf("item %s changelog: %w", item.Slug, err)
	}
	return row, nil
}

// toItem rebuilds a CatalogItem from a stored row.
func (r itemRow) toItem() (*models.CatalogItem, error) {
	item := &models.CatalogItem{
		Slug:        r.Slug,
		Name:        r.Name,
		Summary:     r.Summary,
		Description: r.Description,
		Version:     r.Version,
		Type:        r.Type,
		Developer:   r.Developer,
		License:     r.License,
		DownloadURL: r.DownloadURL,
		WebsiteURL:  r.WebsiteURL,
		SizeInBytes: r.SizeInBytes,
		ReleaseDate: r.ReleaseDate,
		Featured:    r.IsFeatured,
		UpdatedAt:   r.UpdatedAt,
	}

	var err error
	if item.Platforms, err = unmarshalList(r.Platforms); err != nil {
		return nil, fmt.Errorf("item %s platforms: %w", r.Slug, err)
	}
	if item.Categories, err = unmarshalList(r.Categories); err != nil {
		return nil, fmt.Errorf("item %s categories: %w", r.Slug, err)
	}
	item.Stats = map[string]int64{}
	if err := unmarshalOptional(r.Stats, &item.Stats); err != nil {
		return nil, fmt.Errorf("item %s stats: %w", r.Slug, err)
	}
	if err := unmarshalOptional(r.Media, &item.Media); err != nil {
		return nil, fmt.Errorf("item %s media: %w", r.Slug, err)
	}
	if err := unmarshalOptional(r.Requirements, &item.Requirements); err != nil {
		return nil, fmt.Errorf("item %s requirements: %w", r.Slug, err)
	}
	if err := unmarshalOptional(r.Changelog, &item.Changelog); err != nil {
		return nil, fmt.Errorf("item %s changelog: %w", r.Slug, err)
	}
	if len(item.Changelog) == 0 {
		item.Changelog = nil
	}
	return item, nil
}

// args returns the row's values in itemColumns order, with JSON blobs as
// strings for drivers that store them as TEXT.
func (r itemRow) args() []any {
	return []any{
		r.Slug, r.Name, r.Summary, r.Description, r.Version, r.Type, r.Developer, r.License,
		r.DownloadURL, r.WebsiteURL, r.SizeInBytes, r.ReleaseDate, r.IsFeatured,
		string(r.Platforms), string(r.Categories), string(r.Stats), string(r.Media),
		string(r.Requirements), string(r.Changelog), r.UpdatedAt,
	}
}

// marshalList encodes a string list, writing [] for nil.
func marshalList(values []string) (json.RawMessage, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

// unmarshalList decodes a string list, returning an empty slice for no data.
func unmarshalList(data []byte) ([]string, error) {
	if len(data) == 0 {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func unmarshalOptional(data []byte, dst any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dst)
}
