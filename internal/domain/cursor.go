package domain

import "time"

// IngestCursor records the highest slot fully processed for a program.
// Backfill resumes from here after a restart.
type IngestCursor struct {
	ProgramID string
	LastSlot  int64
	Signature string
	UpdatedAt time.Time
}
