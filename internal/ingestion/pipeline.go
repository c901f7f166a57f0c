package ingestion

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"captable-indexer/internal/decoder"
	"captable-indexer/internal/domain"
	"captable-indexer/internal/observability"
	"captable-indexer/internal/storage"
)

// EventProjector applies a decoded event to state.
type EventProjector interface {
	Project(ctx context.Context, ev domain.LedgerEvent) error
}

// BatchHandler consumes the log lines of one transaction.
type BatchHandler interface {
	HandleLogs(ctx context.Context, batch LogBatch) (BatchResult, error)
}

// LogBatch is the log output of one transaction.
type LogBatch struct {
	Signature string
	Slot      int64
	BlockTime time.Time
	Logs      []string
	// Mint restricts projection to one security when set.
	Mint string
	// Err is the transaction error reported by the node; failed
	// transactions emit no durable events.
	Err interface{}
}

// GapObserver is told when the log stream it feeds may have skipped
// transactions, such as across a resubscribe.
type GapObserver interface {
	StreamGap(reason string)
}

// BatchResult counts what happened to one batch.
type BatchResult struct {
	Skipped      bool
	Events       int
	Projected    int
	Failed       int
	DecodeErrors int
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	ProgramID string
	Decoder   decoder.Decoder // defaults to the Anchor decoder for ProgramID
	Projector EventProjector
	Cursors   storage.CursorStore // optional
	Logger    *slog.Logger
}

// Pipeline is the decode then project path shared by live ingestion and backfill.
type Pipeline struct {
	programID string
	decoder   decoder.Decoder
	projector EventProjector
	cursors   storage.CursorStore
	logger    *slog.Logger

	// pinned stops cursor advancement once the processed sequence is no
	// longer contiguous.
	pinned atomic.Bool
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		programID: opts.ProgramID,
		decoder:   opts.Decoder,
		projector: opts.Projector,
		cursors:   opts.Cursors,
		logger:    opts.Logger,
	}
	if p.decoder == nil {
		p.decoder = decoder.NewAnchorDecoder(opts.ProgramID)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// HandleLogs decodes a transaction's logs and projects every event in order.
// Decode and projection failures are logged and counted per event; they never
// stop the remaining events. The only returned error is context cancellation.
func (p *Pipeline) HandleLogs(ctx context.Context, b LogBatch) (BatchResult, error) {
	start := time.Now()
	defer func() {
		observability.RecordBatchLatency(time.Since(start).Seconds())
	}()

	var res BatchResult
	if b.Err != nil {
		res.Skipped = true
		p.logger.Debug("skipping failed transaction", "signature", b.Signature, "slot", b.Slot)
		return res, nil
	}

	decoded, errs := p.decoder.Decode(b.Logs)
	res.DecodeErrors = len(errs)
	if len(errs) > 0 {
		observability.RecordDecodeErrors(len(errs))
		for _, err := range errs {
			p.logger.Warn("undecodable program data", "signature", b.Signature, "slot", b.Slot, "error", err)
		}
	}

	for _, d := range decoded {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if b.Mint != "" && d.Event.EventMint() != b.Mint {
			continue
		}
		res.Events++
		ev := domain.LedgerEvent{
			Signature:  b.Signature,
			EventIndex: d.Index,
			Slot:       b.Slot,
			BlockTime:  b.BlockTime,
			Event:      d.Event,
		}
		if err := p.projector.Project(ctx, ev); err != nil {
			res.Failed++
			p.logger.Error("projection failed",
				"signature", b.Signature,
				"slot", b.Slot,
				"event", d.Event.EventName(),
				"event_index", d.Index,
				"error", err,
			)
			continue
		}
		res.Projected++
	}

	if res.Failed > 0 {
		p.pin("projection failure", b.Slot)
	}
	// The cursor is program-wide: a mint-filtered batch has skipped other
	// mints' events and never moves it.
	if p.cursors != nil && b.Mint == "" && !p.pinned.Load() {
		err := p.cursors.Advance(ctx, &domain.IngestCursor{
			ProgramID: p.programID,
			LastSlot:  b.Slot,
			Signature: b.Signature,
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			p.logger.Warn("failed to advance cursor", "slot", b.Slot, "error", err)
		}
	}
	return res, nil
}

// StreamGap pins the cursor at its current slot for the rest of the run. The
// next catch-up starts from there.
func (p *Pipeline) StreamGap(reason string) {
	p.pin(reason, 0)
}

func (p *Pipeline) pin(reason string, slot int64) {
	if p.cursors == nil || p.pinned.Swap(true) {
		return
	}
	p.logger.Warn("ingest cursor pinned", "program_id", p.programID, "reason", reason, "slot", slot)
}

var (
	_ BatchHandler = (*Pipeline)(nil)
	_ GapObserver  = (*Pipeline)(nil)
)
