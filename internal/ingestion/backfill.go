package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"captable-indexer/internal/observability"
	"captable-indexer/internal/solana"
)

// Default backfill settings.
const (
	DefaultPageSize    = 1000
	DefaultMaxPages    = 100
	DefaultConcurrency = 4
)

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	ProgramID string
	RPC       solana.RPCClient
	Handler   BatchHandler

	// PageSize bounds one getSignaturesForAddress call (max 1000).
	PageSize int
	// MaxPages bounds how far back one run pages.
	MaxPages int
	// Concurrency bounds parallel getTransaction calls.
	Concurrency int

	Logger *slog.Logger
}

// Backfiller replays historical program transactions through the live
// decode and project path.
type Backfiller struct {
	programID   string
	rpc         solana.RPCClient
	handler     BatchHandler
	pageSize    int
	maxPages    int
	concurrency int
	logger      *slog.Logger
}

// NewBackfiller creates a new historical data backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	b := &Backfiller{
		programID:   opts.ProgramID,
		rpc:         opts.RPC,
		handler:     opts.Handler,
		pageSize:    opts.PageSize,
		maxPages:    opts.MaxPages,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if b.pageSize <= 0 || b.pageSize > DefaultPageSize {
		b.pageSize = DefaultPageSize
	}
	if b.maxPages <= 0 {
		b.maxPages = DefaultMaxPages
	}
	if b.concurrency <= 0 {
		b.concurrency = DefaultConcurrency
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	SignaturesSeen int
	// Skipped counts signatures below fromSlot or of failed transactions.
	Skipped     int
	Processed   int
	Failed      int
	Events      int
	HighestSlot int64
	Duration    time.Duration
}

type fetched struct {
	info solana.SignatureInfo
	tx   *solana.Transaction
	err  error
}

// Backfill replays every program transaction at or after fromSlot, keeping
// only events for mint. Per-signature failures are logged and counted; they
// never abort the run. Replaying an overlapping range is a no-op.
func (b *Backfiller) Backfill(ctx context.Context, mint string, fromSlot int64) (*BackfillResult, error) {
	if err := solana.ValidatePublicKey(mint); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &BackfillResult{}
	defer func() {
		result.Duration = time.Since(start)
		observability.RecordBackfill(result.Processed, result.Skipped, result.Failed, result.Duration.Seconds())
	}()

	b.logger.Info("starting backfill", "mint", mint, "from_slot", fromSlot, "program_id", b.programID)

	sigs, err := b.collectSignatures(ctx, fromSlot, result)
	if err != nil {
		return result, err
	}
	SortSignatures(sigs)

	p := pool.NewWithResults[fetched]().WithMaxGoroutines(b.concurrency)
	for _, info := range sigs {
		p.Go(func() fetched {
			tx, err := b.rpc.GetTransaction(ctx, info.Signature)
			return fetched{info: info, tx: tx, err: err}
		})
	}
	byID := make(map[string]fetched, len(sigs))
	for _, f := range p.Wait() {
		byID[f.info.Signature] = f
	}

	// Project sequentially in ledger order.
	for _, info := range sigs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		f := byID[info.Signature]
		switch {
		case f.err != nil:
			result.Failed++
			b.logger.Warn("fetch transaction failed", "signature", info.Signature, "slot", info.Slot, "error", f.err)
			continue
		case f.tx == nil:
			result.Failed++
			b.logger.Warn("transaction not found", "signature", info.Signature, "slot", info.Slot)
			continue
		}

		batch := LogBatch{
			Signature: f.tx.Signature,
			Slot:      f.tx.Slot,
			Mint:      mint,
		}
		if batch.Signature == "" {
			batch.Signature = info.Signature
		}
		if f.tx.BlockTime > 0 {
			batch.BlockTime = time.Unix(f.tx.BlockTime, 0).UTC()
		}
		if f.tx.Meta != nil {
			batch.Logs = f.tx.Meta.LogMessages
			batch.Err = f.tx.Meta.Err
		}

		res, err := b.handler.HandleLogs(ctx, batch)
		if err != nil {
			return result, err
		}
		if res.Skipped {
			result.Skipped++
			continue
		}
		result.Events += res.Projected
		if res.Failed > 0 {
			result.Failed++
			continue
		}
		result.Processed++
		if batch.Slot > result.HighestSlot {
			result.HighestSlot = batch.Slot
		}
	}

	b.logger.Info("backfill complete",
		"mint", mint,
		"signatures", result.SignaturesSeen,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"events", result.Events,
	)
	return result, nil
}

// collectSignatures pages newest to oldest until it passes fromSlot.
func (b *Backfiller) collectSignatures(ctx context.Context, fromSlot int64, result *BackfillResult) ([]solana.SignatureInfo, error) {
	var (
		out    []solana.SignatureInfo
		before string
		seen   = make(map[string]struct{})
	)

	for page := 0; page < b.maxPages; page++ {
		infos, err := b.rpc.GetSignaturesForAddress(ctx, b.programID, &solana.SignaturesOpts{
			Before: before,
			Limit:  b.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("get signatures page %d: %w", page, err)
		}

		reachedStart := false
		for _, info := range infos {
			result.SignaturesSeen++
			if info.Slot < fromSlot {
				result.Skipped++
				reachedStart = true
				continue
			}
			if info.Err != nil {
				result.Skipped++
				continue
			}
			if _, dup := seen[info.Signature]; dup {
				continue
			}
			seen[info.Signature] = struct{}{}
			out = append(out, info)
		}

		if len(infos) < b.pageSize || reachedStart {
			return out, nil
		}
		before = infos[len(infos)-1].Signature
	}

	b.logger.Warn("backfill page limit reached", "max_pages", b.maxPages, "signatures", len(out))
	return out, nil
}
