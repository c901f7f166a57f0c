package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
)

func TestPipeline_HandleLogs_ProjectsAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	p, stores := newProjectingPipeline()

	res, err := p.HandleLogs(ctx, LogBatch{
		Signature: "sig1",
		Slot:      10,
		Logs:      programLogs(t, initToken(mint), minted(mint, alice, 500, 500)),
	})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Events: 2, Projected: 2}, res)

	bal, err := stores.Balances.Get(ctx, mint, alice)
	require.NoError(t, err)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(500)))

	cur, err := stores.Cursors.Get(ctx, programID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cur.LastSlot)
	assert.Equal(t, "sig1", cur.Signature)
}

func TestPipeline_HandleLogs_SkipsFailedTransaction(t *testing.T) {
	ctx := context.Background()
	p, stores := newProjectingPipeline()

	res, err := p.HandleLogs(ctx, LogBatch{
		Signature: "sig1",
		Slot:      10,
		Logs:      programLogs(t, initToken(mint)),
		Err:       map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, err = stores.Securities.Get(ctx, mint)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipeline_HandleLogs_DecodeErrorsAreContained(t *testing.T) {
	ctx := context.Background()
	p, stores := newProjectingPipeline()

	logs := programLogs(t, initToken(mint))
	bad := append([]string{}, logs[:len(logs)-1]...)
	bad = append(bad, "Program data: %%%not-base64%%%", logs[len(logs)-1])

	res, err := p.HandleLogs(ctx, LogBatch{Signature: "sig1", Slot: 5, Logs: bad})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DecodeErrors)
	assert.Equal(t, 1, res.Projected)

	_, err = stores.Securities.Get(ctx, mint)
	assert.NoError(t, err)
}

func TestPipeline_HandleLogs_MintFilter(t *testing.T) {
	ctx := context.Background()
	p, stores := newProjectingPipeline()

	res, err := p.HandleLogs(ctx, LogBatch{
		Signature: "sig1",
		Slot:      5,
		Logs:      programLogs(t, initToken(mint), initToken(otherMint)),
		Mint:      mint,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Projected)

	_, err = stores.Securities.Get(ctx, otherMint)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipeline_HandleLogs_MintFilterLeavesCursor(t *testing.T) {
	ctx := context.Background()
	p, stores := newProjectingPipeline()

	_, err := p.HandleLogs(ctx, LogBatch{Signature: "sig1", Slot: 10, Logs: programLogs(t, initToken(mint))})
	require.NoError(t, err)

	// Only otherMint's event lands at slot 500; a backfill of mint skips it.
	res, err := p.HandleLogs(ctx, LogBatch{
		Signature: "sig2",
		Slot:      500,
		Logs:      programLogs(t, initToken(otherMint)),
		Mint:      mint,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events)

	cur, err := stores.Cursors.Get(ctx, programID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cur.LastSlot)
	assert.Equal(t, "sig1", cur.Signature)
}

func TestPipeline_StreamGapPinsCursor(t *testing.T) {
	ctx := context.Background()
	p, stores := newProjectingPipeline()

	_, err := p.HandleLogs(ctx, LogBatch{Signature: "sig1", Slot: 10, Logs: programLogs(t, initToken(mint))})
	require.NoError(t, err)

	p.StreamGap("resubscribed")

	res, err := p.HandleLogs(ctx, LogBatch{Signature: "sig2", Slot: 80, Logs: programLogs(t, minted(mint, alice, 5, 5))})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Projected, "events after a gap are still projected")

	cur, err := stores.Cursors.Get(ctx, programID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cur.LastSlot, "cursor must not skip the gap")
}

type failingProjector struct {
	failOn string
	seen   []string
}

func (f *failingProjector) Project(_ context.Context, ev domain.LedgerEvent) error {
	f.seen = append(f.seen, ev.Event.EventName())
	if ev.Event.EventName() == f.failOn {
		return errors.New("database unavailable")
	}
	return nil
}

func TestPipeline_HandleLogs_ProjectionFailureDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	proj := &failingProjector{failOn: "TokenInitializedEvent"}
	_, stores := newProjectingPipeline()
	p := NewPipeline(PipelineOptions{ProgramID: programID, Projector: proj, Cursors: stores.Cursors})

	res, err := p.HandleLogs(ctx, LogBatch{
		Signature: "sig1",
		Slot:      5,
		Logs:      programLogs(t, initToken(mint), minted(mint, alice, 1, 1)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Projected)
	assert.Equal(t, []string{"TokenInitializedEvent", "TokensMintedEvent"}, proj.seen)

	_, err = stores.Cursors.Get(ctx, programID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "cursor must not advance past a failed event")

	proj.failOn = ""
	_, err = p.HandleLogs(ctx, LogBatch{Signature: "sig2", Slot: 6, Logs: programLogs(t, minted(mint, alice, 1, 2))})
	require.NoError(t, err)
	_, err = stores.Cursors.Get(ctx, programID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "later batches must not skip the failed one")
}
