package storage

import "errors"

var (
	// ErrNotFound is returned when a slug has no mirrored row.
	ErrNotFound = errors.New("item not found")

	// ErrNotConfigured is returned by the factory when the selected backend
	// lacks credentials. Callers treat the mirror as absent.
	ErrNotConfigured = errors.New("mirror store not configured")
)
