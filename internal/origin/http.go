package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"softhub/internal/models"
	"softhub/internal/version"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	latestPagesPath    = "software/pages/latest"

	// maxChunks guards against a corrupted meta.json driving an unbounded
	// number of requests.
	maxChunks = 10000
	// maxItems bounds the total_items claim the same way.
	maxItems = 1_000_000
)

// Meta describes the published page set.
type Meta struct {
	TotalItems  int `json:"total_items"`
	TotalChunks int `json:"total_chunks"`
}

// HTTPOrigin reads the dataset published as a set of JSON pages:
// <base>/software/pages/latest/meta.json followed by chunk-0001.json
// through chunk-NNNN.json.
type HTTPOrigin struct {
	baseURL   string
	token     string
	client    *http.Client
	userAgent string
}

// NewHTTPOrigin validates the base URL and applies the default timeout.
func NewHTTPOrigin(cfg models.OriginConfig) (*HTTPOrigin, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid origin base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &HTTPOrigin{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		client:    &http.Client{Timeout: timeout},
		userAgent: version.GetInfo().UserAgent(),
	}, nil
}

// FetchAll implements Origin.
func (h *HTTPOrigin) FetchAll(ctx context.Context) ([]*models.CatalogItem, error) {
	var meta Meta
	if err := h.getJSON(ctx, "meta.json", &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch meta: %w", err)
	}
	if meta.TotalChunks < 0 || meta.TotalChunks > maxChunks {
		return nil, fmt.Errorf("meta reports %d chunks", meta.TotalChunks)
	}
	if meta.TotalItems < 0 || meta.TotalItems > maxItems {
		return nil, fmt.Errorf("meta reports %d items", meta.TotalItems)
	}

	items := make([]*models.CatalogItem, 0, meta.TotalItems)
	for i := 1; i <= meta.TotalChunks; i++ {
		var chunk []*models.CatalogItem
		name := fmt.Sprintf("chunk-%04d.json", i)
		if err := h.getJSON(ctx, name, &chunk); err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
		}
		items = append(items, chunk...)
	}

	if meta.TotalItems > 0 && len(items) != meta.TotalItems {
		return nil, fmt.Errorf("meta reports %d items, chunks contain %d", meta.TotalItems, len(items))
	}
	return items, nil
}

func (h *HTTPOrigin) getJSON(ctx context.Context, name string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/"+latestPagesPath+"/"+name, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}
