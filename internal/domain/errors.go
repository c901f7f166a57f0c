package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the indexer. Callers match with errors.Is.
var (
	// ErrConnection indicates the ledger endpoint is unreachable or refused a request.
	ErrConnection = errors.New("connection error")
	// ErrMaxReconnects indicates the subscription gave up reconnecting.
	ErrMaxReconnects = errors.New("max reconnect attempts exceeded")
	// ErrDecode indicates a log line could not be decoded into an event.
	ErrDecode = errors.New("decode error")
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("validation error")
	// ErrPartialFailure indicates a multi-step operation stopped midway.
	ErrPartialFailure = errors.New("partial failure")
)

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PartialFailureError reports how far a corporate action got before failing.
type PartialFailureError struct {
	ActionID        string
	Step            string
	NewMint         string
	HoldersMigrated int
	Err             error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure at step %s (new mint %s, %d holders migrated): %v",
		e.Step, e.NewMint, e.HoldersMigrated, e.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, e.Err}
}
