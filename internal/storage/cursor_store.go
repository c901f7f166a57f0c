package storage

import (
	"context"

	"captable-indexer/internal/domain"
)

// CursorStore persists the ingestion position per program.
// This enables resumption after restarts without reprocessing from genesis.
type CursorStore interface {
	// Get returns the cursor for a program.
	// Returns ErrNotFound if no progress has been saved yet.
	Get(ctx context.Context, programID string) (*domain.IngestCursor, error)

	// Advance moves the cursor forward. A cursor at a lower slot than the
	// stored one is ignored.
	Advance(ctx context.Context, c *domain.IngestCursor) error
}
