package domain

import "errors"

// Sentinel errors shared across the persistence and service layers.
var (
	// ErrNotFound means the requested row does not exist for the tenant.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput means the caller supplied an unusable argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict means a write-once row already exists.
	ErrConflict = errors.New("already exists")
)
