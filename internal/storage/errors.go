package storage

import "errors"

// Storage errors for the journal stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to journal a record
	// with a key that already exists. Journals are append-only.
	ErrDuplicateKey = errors.New("duplicate key: journal does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
