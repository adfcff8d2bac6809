// Package models - Catalog items.
// A CatalogItem is one piece of software in the authoritative dataset and
// one row in the mirror store. The slug is the join key between the two.
package models

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// MaxSlugLength bounds slugs so they stay usable as path segments and as
// fields of a signed download message.
const MaxSlugLength = 128

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// CatalogItem is a denormalized software record. JSON tags follow the
// dataset published by the editorial repository.
type CatalogItem struct {
	Slug         string           `json:"slug"`
	Name         string           `json:"name"`
	Summary      string           `json:"summary,omitempty"`
	Description  string           `json:"description,omitempty"`
	Version      string           `json:"version,omitempty"`
	Type         string           `json:"type,omitempty"`
	Developer    string           `json:"developer,omitempty"`
	License      string           `json:"license,omitempty"`
	DownloadURL  string           `json:"downloadUrl,omitempty"`
	WebsiteURL   string           `json:"websiteUrl,omitempty"`
	SizeInBytes  int64            `json:"sizeInBytes,omitempty"`
	ReleaseDate  string           `json:"releaseDate,omitempty"`
	Featured     bool             `json:"isFeatured,omitempty"`
	Platforms    []string         `json:"platforms"`
	Categories   []string         `json:"categories"`
	Stats        map[string]int64 `json:"stats,omitempty"`
	Media        ItemMedia        `json:"media"`
	Requirements ItemRequirements `json:"requirements"`
	Changelog    []ChangelogEntry `json:"changelog,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt,omitempty"`
}

type ItemMedia struct {
	LogoURL   string   `json:"logoUrl,omitempty"`
	HeroImage string   `json:"heroImage,omitempty"`
	Gallery   []string `json:"gallery,omitempty"`
}

type ItemRequirements struct {
	Minimum     []string `json:"minimum,omitempty"`
	Recommended []string `json:"recommended,omitempty"`
}

type ChangelogEntry struct {
	Version    string   `json:"version"`
	Date       string   `json:"date,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// ValidSlug reports whether slug is a lowercase, hyphen-separated identifier
// of at most MaxSlugLength bytes.
func ValidSlug(slug string) bool {
	return len(slug) <= MaxSlugLength && slugPattern.MatchString(slug)
}

// Normalize canonicalizes the item in place so that the same editorial
// content always produces the same mirrored row.
func (ci *CatalogItem) Normalize() {
	ci.Slug = strings.ToLower(strings.TrimSpace(ci.Slug))
	ci.Name = strings.TrimSpace(ci.Name)
	ci.Platforms = dedupeSorted(ci.Platforms)
	ci.Categories = dedupeSorted(ci.Categories)
	if ci.Stats == nil {
		ci.Stats = map[string]int64{}
	}
	sortChangelog(ci.Changelog)
}

// Validate checks the fields the mirror relies on.
func (ci *CatalogItem) Validate() error {
	if !ValidSlug(ci.Slug) {
		return fmt.Errorf("invalid slug %q", ci.Slug)
	}
	if ci.Name == "" {
		return fmt.Errorf("item %s: name is required", ci.Slug)
	}
	return nil
}

// Clone returns a deep copy so stores can hand items out without sharing
// slices or maps with the caller.
func (ci *CatalogItem) Clone() *CatalogItem {
	if ci == nil {
		return nil
	}
	out := *ci
	out.Platforms = slices.Clone(ci.Platforms)
	out.Categories = slices.Clone(ci.Categories)
	out.Stats = maps.Clone(ci.Stats)
	out.Media.Gallery = slices.Clone(ci.Media.Gallery)
	out.Requirements.Minimum = slices.Clone(ci.Requirements.Minimum)
	out.Requirements.Recommended = slices.Clone(ci.Requirements.Recommended)
	if ci.Changelog != nil {
		out.Changelog = make([]ChangelogEntry, len(ci.Changelog))
		for i, e := range ci.Changelog {
			e.Highlights = slices.Clone(e.Highlights)
			out.Changelog[i] = e
		}
	}
	return &out
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// sortChangelog orders entries newest first. Entries whose version does not
// parse as semver sort after all parseable ones, lexically descending.
func sortChangelog(entries []ChangelogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		vi, ei := semver.NewVersion(entries[i].Version)
		vj, ej := semver.NewVersion(entries[j].Version)
		switch {
		case ei == nil && ej == nil:
			return vi.GreaterThan(vj)
		case ei == nil:
			return true
		case ej == nil:
			return false
		default:
			return entries[i].Version > entries[j].Version
		}
	})
}
