package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"softhub/internal/models"
	"softhub/internal/version"
)

const (
	defaultSupabaseTable   = "software"
	defaultSupabaseTimeout = 15 * time.Second
	supabasePageSize       = 1000
	// supabaseMaxFilterLen caps the encoded slug=in.(...) filter of one
	// DELETE so the request line stays well under common proxy limits.
	supabaseMaxFilterLen = 4096
)

// SupabaseMirror writes the catalog to a Supabase table through its PostgREST
// interface, authenticated with a service-role key.
type SupabaseMirror struct {
	baseURL string
	key     string
	table   string
	client  *http.Client
	now     func() time.Time
}

// NewSupabaseMirror returns ErrNotConfigured when the URL or key is missing.
func NewSupabaseMirror(cfg models.SupabaseConfig) (*SupabaseMirror, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = defaultSupabaseTable
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSupabaseTimeout
	}

	return &SupabaseMirror{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.ServiceKey,
		table:   table,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}, nil
}

// ListSlugs implements Mirror. Pages through the table in slug order until a
// page comes back empty; the server may cap pages below the requested limit.
func (s *SupabaseMirror) ListSlugs(ctx context.Context) ([]string, error) {
	slugs := []string{}
	for offset := 0; ; {
		q := url.Values{}
		q.Set("select", "slug")
		q.Set("order", "slug.asc")
		q.Set("limit", strconv.Itoa(supabasePageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page []struct {
			Slug string `json:"slug"`
		}
		if err := s.do(ctx, http.MethodGet, q, nil, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list slugs: %w", err)
		}
		if len(page) == 0 {
			return slugs, nil
		}
		for _, p := range page {
			slugs = append(slugs, p.Slug)
		}
		offset += len(page)
	}
}

// UpsertItems implements Mirror. PostgREST applies a bulk insert as one
// statement, so the batch is atomic.
func (s *SupabaseMirror) UpsertItems(ctx context.Context, items []*models.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	now := s.now()

	rows := make([]itemRow, 0, len(items))
	for _, item := range items {
		row, err := toRow(item, now)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	q := url.Values{}
	q.Set("on_conflict", "slug")
	headers := map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "resolution=merge-duplicates,return=minimal",
	}
	if err := s.do(ctx, http.MethodPost, q, headers, body, nil); err != nil {
		return fmt.Errorf("failed to upsert %d items: %w", len(items), err)
	}
	return nil
}

// DeleteItems implements Mirror. Long batches go out as several requests, each
// with a filter under supabaseMaxFilterLen; deleting is idempotent, so a failed
// request is safe to retry with the whole batch.
func (s *SupabaseMirror) DeleteItems(ctx context.Context, slugs []string) error {
	for _, group := range deleteGroups(slugs, supabaseMaxFilterLen) {
		q := url.Values{}
		q.Set("slug", "in.("+strings.Join(group, ",")+")")

		headers := map[string]string{"Prefer": "return=minimal"}
		if err := s.do(ctx, http.MethodDelete, q, headers, nil, nil); err != nil {
			return fmt.Errorf("failed to delete %d items: %w", len(slugs), err)
		}
	}
	return nil
}

// deleteGroups quotes slugs and splits them so each group's encoded filter
// stays within limit. A single slug longer than limit gets a group of its own.
func deleteGroups(slugs []string, limit int) [][]string {
	var groups [][]string
	var group []string
	size := len(url.QueryEscape("in.()"))
	for _, slug := range slugs {
		quoted := strconv.Quote(slug)
		n := len(url.QueryEscape(quoted))
		if len(group) > 0 {
			n += len(url.QueryEscape(","))
		}
		if len(group) > 0 && size+n > limit {
			groups = append(groups, group)
			group = nil
			size = len(url.QueryEscape("in.()"))
			n = len(url.QueryEscape(quoted))
		}
		group = append(group, quoted)
		size += n
	}
	if len(group) > 0 {
		groups = append(groups, group)
	}
	return groups
}

// GetItem implements Mirror.
func (s *SupabaseMirror) GetItem(ctx context.Context, slug string) (*models.CatalogItem, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("slug", "eq."+slug)
	q.Set("limit", "1")

	var rows []itemRow
	if err := s.do(ctx, http.MethodGet, q, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", slug, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toItem()
}

// Ping implements Mirror by reading a single slug.
func (s *SupabaseMirror) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", "slug")
	q.Set("limit", "1")

	var page []json.RawMessage
	return s.do(ctx, http.MethodGet, q, nil, nil, &page)
}

func (s *SupabaseMirror) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *SupabaseMirror) do(ctx context.Context, method string, q url.Values, headers map[string]string, body []byte, out any) error {
	endpoint := s.baseURL + "/rest/v1/" + url.PathEscape(s.table) + "?" + q.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("supabase returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
