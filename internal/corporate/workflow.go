// Package corporate executes corporate actions against projected state.
//
// A stock split is a saga: each step commits on its own and the action record
// carries the step cursor. Nothing is rolled back. The new security identity
// and the action id are derived from (source mint, ratio), so running the
// same split again resumes where the failed run stopped.
package corporate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/idhash"
	"captable-indexer/internal/notify"
	"captable-indexer/internal/observability"
	"captable-indexer/internal/solana"
	"captable-indexer/internal/storage"
)

// Split ratio bounds.
const (
	MinSplitRatio = 2
	MaxSplitRatio = 1000
)

// Saga steps of a stock split, in execution order.
const (
	StepResolveSource = iota + 1
	StepEnumerateHolders
	StepCreateSecurity
	StepRecordAction
	StepCopyAllowlist
	StepMigrateBalances
	StepSetSupply
	StepRetireSource
	StepComplete
)

var stepNames = map[int]string{
	StepResolveSource:    "resolve_source",
	StepEnumerateHolders: "enumerate_holders",
	StepCreateSecurity:   "create_security",
	StepRecordAction:     "record_action",
	StepCopyAllowlist:    "copy_allowlist",
	StepMigrateBalances:  "migrate_balances",
	StepSetSupply:        "set_supply",
	StepRetireSource:     "retire_source",
	StepComplete:         "complete",
}

// StepName returns the name of a saga step.
func StepName(step int) string {
	if n, ok := stepNames[step]; ok {
		return n
	}
	return "step_" + strconv.Itoa(step)
}

// SplitParams describes a stock split.
type SplitParams struct {
	Mint       string
	Ratio      int64
	ExecutedBy string
}

// SplitResult reports the outcome of one split attempt.
type SplitResult struct {
	Success         bool            `json:"success"`
	ActionID        string          `json:"action_id"`
	SourceMint      string          `json:"source_mint"`
	NewMint         string          `json:"new_mint,omitempty"`
	Ratio           int64           `json:"ratio"`
	HoldersTotal    int             `json:"holders_total"`
	HoldersMigrated int             `json:"holders_migrated"`
	NewSupply       decimal.Decimal `json:"new_supply"`
	FailedStep      string          `json:"failed_step,omitempty"`
	Resumed         bool            `json:"resumed"`
}

// SymbolChangeParams describes a ticker change.
type SymbolChangeParams struct {
	Mint       string
	NewSymbol  string
	ExecutedBy string
}

// Options configures a Workflow.
type Options struct {
	Securities       storage.SecurityStore
	Balances         storage.BalanceStore
	Allowlist        storage.AllowlistStore
	CorporateActions storage.CorporateActionStore

	Publisher notify.Publisher // optional
	Logger    *slog.Logger     // optional
	Now       func() time.Time // optional
}

// Workflow runs corporate actions. Concurrent splits of the same source
// security must be serialized by the caller.
type Workflow struct {
	securities storage.SecurityStore
	balances   storage.BalanceStore
	allowlist  storage.AllowlistStore
	actions    storage.CorporateActionStore
	publisher  notify.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Workflow.
func New(opts Options) *Workflow {
	w := &Workflow{
		securities: opts.Securities,
		balances:   opts.Balances,
		allowlist:  opts.Allowlist,
		actions:    opts.CorporateActions,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if w.publisher == nil {
		w.publisher = notify.Discard{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// splitRun carries the state of one split attempt.
type splitRun struct {
	params SplitParams
	result *SplitResult
	source *domain.Security
	status domain.CorporateActionStatus
	// recorded is set once the action record exists.
	recorded bool
}

// ExecuteStockSplit multiplies every holder's balance by Ratio into a new
// security and retires the source. A step failure returns the partial result
// together with a *domain.PartialFailureError.
func (w *Workflow) ExecuteStockSplit(ctx context.Context, p SplitParams) (*SplitResult, error) {
	if err := solana.ValidatePublicKey(p.Mint); err != nil {
		return nil, err
	}
	if p.Ratio < MinSplitRatio || p.Ratio > MaxSplitRatio {
		return nil, domain.Validationf("split ratio %d must be between %d and %d", p.Ratio, MinSplitRatio, MaxSplitRatio)
	}

	run := &splitRun{
		params: p,
		status: domain.ActionInProgress,
		result: &SplitResult{
			ActionID:   idhash.ComputeSplitActionID(p.Mint, p.Ratio),
			SourceMint: p.Mint,
			Ratio:      p.Ratio,
			NewSupply:  decimal.Zero,
		},
	}
	newMint := idhash.ComputeSplitMint(p.Mint, p.Ratio)

	// 1. Resolve the source security.
	src, err := w.securities.Get(ctx, p.Mint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("security %s: %w", p.Mint, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get security: %w", err)
	}
	run.source = src

	existing, err := w.actions.Get(ctx, run.result.ActionID)
	switch {
	case err == nil:
		run.recorded = true
		run.status = existing.Status
		run.result.Resumed = true
		if existing.Status == domain.ActionCompleted {
			return w.completedResult(ctx, run, newMint)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("get corporate action: %w", err)
	}

	if !src.IsActive && (src.ReplacedBy == nil || *src.ReplacedBy != newMint) {
		return nil, domain.Validationf("security %s is inactive", p.Mint)
	}

	w.logger.Info("stock split started",
		"action_id", run.result.ActionID,
		"mint", p.Mint,
		"new_mint", newMint,
		"ratio", p.Ratio,
		"resumed", run.result.Resumed,
	)

	// 2. Enumerate holders. Nothing has been written yet.
	holders, err := w.balances.ListHolders(ctx, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	run.result.HoldersTotal = len(holders)

	// 3. Create the successor security.
	prev := p.Mint
	err = w.securities.Insert(ctx, &domain.Security{
		Mint:          newMint,
		Symbol:        src.Symbol,
		Name:          src.Name,
		Decimals:      src.Decimals,
		Authority:     src.Authority,
		TotalSupply:   decimal.Zero,
		CurrentSupply: decimal.Zero,
		IsActive:      true,
		PreviousMint:  &prev,
		CreatedSlot:   maxSlot(holders),
		CreatedAt:     w.now().UTC(),
		UpdatedAt:     w.now().UTC(),
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return w.fail(ctx, run, StepCreateSecurity, fmt.Errorf("create security: %w", err))
	}
	run.result.NewMint = newMint

	// 4. Record the action.
	if !run.recorded {
		rec := &domain.CorporateActionRecord{
			ID:         run.result.ActionID,
			Mint:       p.Mint,
			ActionType: domain.ActionStockSplit,
			Parameters: map[string]string{
				"ratio":    strconv.FormatInt(p.Ratio, 10),
				"old_mint": p.Mint,
				"new_mint": newMint,
				"holders":  strconv.Itoa(len(holders)),
			},
			Status:     domain.ActionInProgress,
			LastStep:   StepRecordAction,
			ExecutedBy: p.ExecutedBy,
			CreatedAt:  w.now().UTC(),
			UpdatedAt:  w.now().UTC(),
		}
		if err := w.actions.Insert(ctx, rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return w.fail(ctx, run, StepRecordAction, fmt.Errorf("record action: %w", err))
		}
		run.recorded = true
	}

	// 5. Copy approved allowlist entries.
	entries, err := w.allowlist.ListByStatus(ctx, p.Mint, domain.AllowlistApproved)
	if err != nil {
		return w.fail(ctx, run, StepCopyAllowlist, fmt.Errorf("list allowlist: %w", err))
	}
	for _, e := range entries {
		cp := &domain.AllowlistEntry{
			Mint:       newMint,
			Wallet:     e.Wallet,
			Status:     domain.AllowlistApproved,
			ApprovedBy: e.ApprovedBy,
			ApprovedAt: e.ApprovedAt,
			Slot:       e.Slot,
			Signature:  e.Signature,
			EventIndex: e.EventIndex,
			UpdatedAt:  w.now().UTC(),
		}
		if _, err := w.allowlist.Upsert(ctx, cp); err != nil {
			return w.fail(ctx, run, StepCopyAllowlist, fmt.Errorf("copy allowlist entry %s: %w", e.Wallet, err))
		}
	}
	w.progress(ctx, run, StepCopyAllowlist)

	// 6. Migrate balances. Each holder is an independent, replay-safe delta.
	ratio := decimal.NewFromInt(p.Ratio)
	sig := idhash.MigrationSignature(run.result.ActionID)
	for _, h := range holders {
		_, err := w.balances.ApplyDelta(ctx, &domain.BalanceDelta{
			Mint:      newMint,
			Wallet:    h.Wallet,
			Signature: sig,
			Leg:       domain.LegSplit,
			Amount:    h.Amount.Mul(ratio),
			Slot:      h.Slot,
		})
		if err != nil {
			return w.fail(ctx, run, StepMigrateBalances, fmt.Errorf("migrate %s: %w", h.Wallet, err))
		}
		run.result.HoldersMigrated++
	}
	w.progress(ctx, run, StepMigrateBalances)

	// 7. Supply is the sum of migrated balances.
	migrated, err := w.balances.ListHolders(ctx, newMint)
	if err != nil {
		return w.fail(ctx, run, StepSetSupply, fmt.Errorf("list migrated holders: %w", err))
	}
	supply := decimal.Zero
	for _, b := range migrated {
		supply = supply.Add(b.Amount)
	}
	if err := w.securities.SetSupply(ctx, newMint, supply); err != nil {
		return w.fail(ctx, run, StepSetSupply, fmt.Errorf("set supply: %w", err))
	}
	run.result.NewSupply = supply
	w.progress(ctx, run, StepSetSupply)

	// 8. Retire the source.
	if err := w.securities.Retire(ctx, p.Mint, newMint); err != nil {
		return w.fail(ctx, run, StepRetireSource, fmt.Errorf("retire source: %w", err))
	}
	w.progress(ctx, run, StepRetireSource)

	// 9. Complete.
	if err := w.actions.UpdateStatus(ctx, run.result.ActionID, domain.ActionCompleted, StepComplete, ""); err != nil {
		return w.fail(ctx, run, StepComplete, fmt.Errorf("complete action: %w", err))
	}

	run.result.Success = true
	observability.RecordCorporateAction(string(domain.ActionStockSplit), string(domain.ActionCompleted))
	w.emit(ctx, run.result, domain.ActionCompleted, "")
	w.logger.Info("stock split completed",
		"action_id", run.result.ActionID,
		"new_mint", newMint,
		"holders", run.result.HoldersMigrated,
		"new_supply", supply.String(),
	)
	return run.result, nil
}

// completedResult describes a split that already finished.
func (w *Workflow) completedResult(ctx context.Context, run *splitRun, newMint string) (*SplitResult, error) {
	res := run.result
	res.NewMint = newMint

	newSec, err := w.securities.Get(ctx, newMint)
	if err != nil {
		return nil, fmt.Errorf("get split security: %w", err)
	}
	holders, err := w.balances.ListHolders(ctx, newMint)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	res.Success = true
	res.NewSupply = newSec.CurrentSupply
	res.HoldersTotal = len(holders)
	res.HoldersMigrated = len(holders)
	return res, nil
}

// progress moves the step cursor. A failed cursor write is retried by the
// next step or the next run, so it is only logged.
func (w *Workflow) progress(ctx context.Context, run *splitRun, step int) {
	if err := w.actions.UpdateStatus(ctx, run.result.ActionID, run.status, step, ""); err != nil {
		w.logger.Warn("step cursor update failed", "action_id", run.result.ActionID, "step", StepName(step), "error", err)
	}
}

func (w *Workflow) fail(ctx context.Context, run *splitRun, step int, cause error) (*SplitResult, error) {
	res := run.result
	res.Success = false
	res.FailedStep = StepName(step)

	if run.recorded {
		if err := w.actions.UpdateStatus(ctx, res.ActionID, domain.ActionFailed, step-1, cause.Error()); err != nil {
			w.logger.Warn("failed to mark action failed", "action_id", res.ActionID, "error", err)
		}
	}

	observability.RecordCorporateAction(string(domain.ActionStockSplit), string(domain.ActionFailed))
	w.emit(ctx, res, domain.ActionFailed, cause.Error())
	w.logger.Error("stock split failed",
		"action_id", res.ActionID,
		"step", res.FailedStep,
		"holders_migrated", res.HoldersMigrated,
		"error", cause,
	)

	return res, &domain.PartialFailureError{
		ActionID:        res.ActionID,
		Step:            res.FailedStep,
		NewMint:         res.NewMint,
		HoldersMigrated: res.HoldersMigrated,
		Err:             cause,
	}
}

func (w *Workflow) emit(ctx context.Context, res *SplitResult, status domain.CorporateActionStatus, errMsg string) {
	payload := map[string]string{
		"action_id":        res.ActionID,
		"action_type":      string(domain.ActionStockSplit),
		"status":           string(status),
		"ratio":            strconv.FormatInt(res.Ratio, 10),
		"new_mint":         res.NewMint,
		"holders_migrated": strconv.Itoa(res.HoldersMigrated),
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	n := notify.New(domain.NotifyCorporateAction, res.SourceMint, 0, "", payload)
	if err := w.publisher.Publish(ctx, n); err != nil {
		w.logger.Warn("notification publish failed", "type", n.Type, "mint", res.SourceMint, "error", err)
	}
}

// ChangeSymbol renames a security's ticker. It has no migration phase, so
// the action is recorded as completed in one step.
func (w *Workflow) ChangeSymbol(ctx context.Context, p SymbolChangeParams) (*domain.CorporateActionRecord, error) {
	if err := solana.ValidatePublicKey(p.Mint); err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(p.NewSymbol); n < domain.MinSymbolLen || n > domain.MaxSymbolLen {
		return nil, domain.Validationf("symbol %q must be %d-%d characters", p.NewSymbol, domain.MinSymbolLen, domain.MaxSymbolLen)
	}

	sec, err := w.securities.Get(ctx, p.Mint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("security %s: %w", p.Mint, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get security: %w", err)
	}
	if !sec.IsActive {
		return nil, domain.Validationf("security %s is inactive", p.Mint)
	}

	if err := w.securities.UpdateSymbol(ctx, p.Mint, p.NewSymbol); err != nil {
		return nil, fmt.Errorf("update symbol: %w", err)
	}

	now := w.now().UTC()
	rec := &domain.CorporateActionRecord{
		ID:         uuid.NewString(),
		Mint:       p.Mint,
		ActionType: domain.ActionSymbolChange,
		Parameters: map[string]string{
			"old_symbol": sec.Symbol,
			"new_symbol": p.NewSymbol,
		},
		Status:      domain.ActionCompleted,
		LastStep:    1,
		ExecutedBy:  p.ExecutedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}
	if err := w.actions.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("record action: %w", err)
	}

	observability.RecordCorporateAction(string(domain.ActionSymbolChange), string(domain.ActionCompleted))
	n := notify.New(domain.NotifyCorporateAction, p.Mint, 0, "", map[string]string{
		"action_id":   rec.ID,
		"action_type": string(domain.ActionSymbolChange),
		"status":      string(domain.ActionCompleted),
		"old_symbol":  sec.Symbol,
		"new_symbol":  p.NewSymbol,
	})
	if err := w.publisher.Publish(ctx, n); err != nil {
		w.logger.Warn("notification publish failed", "type", n.Type, "mint", p.Mint, "error", err)
	}

	w.logger.Info("symbol changed", "mint", p.Mint, "old_symbol", sec.Symbol, "new_symbol", p.NewSymbol)
	return rec, nil
}

// ListActions returns a security's corporate actions, newest first.
func (w *Workflow) ListActions(ctx context.Context, mint string) ([]*domain.CorporateActionRecord, error) {
	if err := solana.ValidatePublicKey(mint); err != nil {
		return nil, err
	}
	recs, err := w.actions.ListByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("list corporate actions: %w", err)
	}
	return recs, nil
}

// GetAction returns one corporate action.
func (w *Workflow) GetAction(ctx context.Context, id string) (*domain.CorporateActionRecord, error) {
	rec, err := w.actions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("corporate action %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get corporate action: %w", err)
	}
	return rec, nil
}

func maxSlot(balances []*domain.Balance) int64 {
	var max int64
	for _, b := range balances {
		if b.Slot > max {
			max = b.Slot
		}
	}
	return max
}
