package storage

import "errors"

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidInput is returned when a record fails basic validation before writing.
	ErrInvalidInput = errors.New("storage: invalid input")
)
