package verification

import (
	"context"
	"fmt"
	"log/slog"

	"captable-indexer/internal/ingestion"
	"captable-indexer/internal/projector"
	"captable-indexer/internal/solana"
	"captable-indexer/internal/storage"
)

// BackfillReplayer rebuilds state by running a full backfill from genesis
// through the normal decode and project path. Nothing is published and no
// cursor is written.
type BackfillReplayer struct {
	ProgramID   string
	RPC         solana.RPCClient
	PageSize    int
	MaxPages    int
	Concurrency int
	Logger      *slog.Logger
}

// Replay implements Replayer.
func (r *BackfillReplayer) Replay(ctx context.Context, mint string, into *storage.Stores) error {
	proj := projector.New(projector.Options{
		ProgramID:  r.ProgramID,
		Securities: into.Securities,
		Balances:   into.Balances,
		Allowlist:  into.Allowlist,
		Transfers:  into.Transfers,
		Logger:     r.Logger,
	})
	pipeline := ingestion.NewPipeline(ingestion.PipelineOptions{
		ProgramID: r.ProgramID,
		Projector: proj,
		Logger:    r.Logger,
	})
	backfiller := ingestion.NewBackfiller(ingestion.BackfillOptions{
		ProgramID:   r.ProgramID,
		RPC:         r.RPC,
		Handler:     pipeline,
		PageSize:    r.PageSize,
		MaxPages:    r.MaxPages,
		Concurrency: r.Concurrency,
		Logger:      r.Logger,
	})

	res, err := backfiller.Backfill(ctx, mint, 0)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d transactions could not be fetched", res.Failed)
	}
	return nil
}
