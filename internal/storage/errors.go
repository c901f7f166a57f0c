package storage

import (
	"errors"
	"fmt"

	"captable-indexer/internal/domain"
)

// Storage errors. ErrNotFound and ErrInvalidTransition wrap the domain kinds
// so callers above the storage layer can match on either.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = fmt.Errorf("record %w", domain.ErrNotFound)

	// ErrDuplicateKey is returned when inserting a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned when a status update would move backwards.
	ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", domain.ErrConflict)
)
