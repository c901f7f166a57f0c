// Package verification rebuilds a security's ownership state from ledger
// history and compares it with the persisted projection.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
	"captable-indexer/internal/storage/memory"
)

// FieldDivergence is a mismatch between stored and replayed state.
type FieldDivergence struct {
	Field    string // e.g. "current_supply" or "balance[<wallet>]"
	Expected string // stored value
	Actual   string // replayed value
}

// Result is the outcome of verifying one security.
type Result struct {
	Mint        string
	Match       bool
	Divergences []FieldDivergence
	// CorporateActions counts completed actions on the security. Those change
	// state outside the event stream, so divergences on such a mint are
	// expected and need review rather than a rebuild.
	CorporateActions int
}

// Report contains results for batch verification.
type Report struct {
	Total     int
	Matched   int
	Divergent int
	Results   []Result
}

// Replayer rebuilds a security's state from history into empty stores.
type Replayer interface {
	Replay(ctx context.Context, mint string, into *storage.Stores) error
}

// Options configures a Verifier.
type Options struct {
	Stored   *storage.Stores
	Replayer Replayer
	Logger   *slog.Logger
}

// Verifier checks the persisted projection against a fresh replay.
type Verifier struct {
	stored   *storage.Stores
	replayer Replayer
	logger   *slog.Logger
}

// New creates a Verifier.
func New(opts Options) *Verifier {
	v := &Verifier{stored: opts.Stored, replayer: opts.Replayer, logger: opts.Logger}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// VerifyMint replays mint into fresh in-memory stores and diffs the result.
// Returns domain.ErrNotFound if the security is not stored.
func (v *Verifier) VerifyMint(ctx context.Context, mint string) (*Result, error) {
	if _, err := v.stored.Securities.Get(ctx, mint); err != nil {
		return nil, fmt.Errorf("security %s: %w", mint, err)
	}

	replayed := memory.NewStores()
	if err := v.replayer.Replay(ctx, mint, replayed); err != nil {
		return nil, fmt.Errorf("replay %s: %w", mint, err)
	}

	divergences, err := CompareState(ctx, mint, v.stored, replayed)
	if err != nil {
		return nil, err
	}

	actions, err := v.completedActions(ctx, mint)
	if err != nil {
		return nil, err
	}

	return &Result{
		Mint:             mint,
		Match:            len(divergences) == 0,
		Divergences:      divergences,
		CorporateActions: actions,
	}, nil
}

// VerifyAll verifies each mint in turn. A mint that cannot be verified is
// recorded as divergent with an "error" field; only cancellation aborts.
func (v *Verifier) VerifyAll(ctx context.Context, mints []string) (*Report, error) {
	report := &Report{Total: len(mints), Results: make([]Result, 0, len(mints))}

	for _, mint := range mints {
		res, err := v.VerifyMint(ctx, mint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			v.logger.Warn("verification failed", "mint", mint, "error", err)
			report.Results = append(report.Results, Result{
				Mint:        mint,
				Divergences: []FieldDivergence{{Field: "error", Actual: err.Error()}},
			})
			report.Divergent++
			continue
		}

		report.Results = append(report.Results, *res)
		if res.Match {
			report.Matched++
		} else {
			report.Divergent++
		}
	}

	return report, nil
}

func (v *Verifier) completedActions(ctx context.Context, mint string) (int, error) {
	if v.stored.CorporateActions == nil {
		return 0, nil
	}
	records, err := v.stored.CorporateActions.ListByMint(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("list corporate actions: %w", err)
	}
	var n int
	for _, r := range records {
		if r.Status == domain.ActionCompleted {
			n++
		}
	}
	return n, nil
}

// CompareState diffs the security row, positive balances and allowlist
// statuses of mint between two store sets.
func CompareState(ctx context.Context, mint string, stored, replayed *storage.Stores) ([]FieldDivergence, error) {
	var divergences []FieldDivergence

	want, err := stored.Securities.Get(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("stored security: %w", err)
	}
	got, err := replayed.Securities.Get(ctx, mint)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		divergences = append(divergences, FieldDivergence{Field: "security", Expected: mint, Actual: "missing"})
	case err != nil:
		return nil, fmt.Errorf("replayed security: %w", err)
	default:
		divergences = append(divergences, compareSecurity(want, got)...)
	}

	wantBalances, err := holderAmounts(ctx, stored.Balances, mint)
	if err != nil {
		return nil, err
	}
	gotBalances, err := holderAmounts(ctx, replayed.Balances, mint)
	if err != nil {
		return nil, err
	}
	for _, wallet := range unionKeys(wantBalances, gotBalances) {
		w, g := wantBalances[wallet], gotBalances[wallet]
		if !w.Equal(g) {
			divergences = append(divergences, FieldDivergence{
				Field:    "balance[" + wallet + "]",
				Expected: w.String(),
				Actual:   g.String(),
			})
		}
	}

	wantStatus, err := allowlistStatuses(ctx, stored.Allowlist, mint)
	if err != nil {
		return nil, err
	}
	gotStatus, err := allowlistStatuses(ctx, replayed.Allowlist, mint)
	if err != nil {
		return nil, err
	}
	for _, wallet := range unionKeys(wantStatus, gotStatus) {
		w, g := statusOrNone(wantStatus, wallet), statusOrNone(gotStatus, wallet)
		if w != g {
			divergences = append(divergences, FieldDivergence{
				Field:    "allowlist[" + wallet + "]",
				Expected: string(w),
				Actual:   string(g),
			})
		}
	}

	return divergences, nil
}

func compareSecurity(want, got *domain.Security) []FieldDivergence {
	var out []FieldDivergence
	if want.Symbol != got.Symbol {
		out = append(out, FieldDivergence{Field: "symbol", Expected: want.Symbol, Actual: got.Symbol})
	}
	if want.Decimals != got.Decimals {
		out = append(out, FieldDivergence{
			Field:    "decimals",
			Expected: fmt.Sprint(want.Decimals),
			Actual:   fmt.Sprint(got.Decimals),
		})
	}
	if !want.TotalSupply.Equal(got.TotalSupply) {
		out = append(out, FieldDivergence{Field: "total_supply", Expected: want.TotalSupply.String(), Actual: got.TotalSupply.String()})
	}
	if !want.CurrentSupply.Equal(got.CurrentSupply) {
		out = append(out, FieldDivergence{Field: "current_supply", Expected: want.CurrentSupply.String(), Actual: got.CurrentSupply.String()})
	}
	return out
}

func holderAmounts(ctx context.Context, balances storage.BalanceStore, mint string) (map[string]decimal.Decimal, error) {
	holders, err := balances.ListHolders(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(holders))
	for _, b := range holders {
		out[b.Wallet] = b.Amount
	}
	return out, nil
}

func allowlistStatuses(ctx context.Context, allowlist storage.AllowlistStore, mint string) (map[string]domain.AllowlistStatus, error) {
	entries, err := allowlist.ListByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("list allowlist: %w", err)
	}
	out := make(map[string]domain.AllowlistStatus, len(entries))
	for _, e := range entries {
		out[e.Wallet] = e.Status
	}
	return out, nil
}

func statusOrNone(m map[string]domain.AllowlistStatus, wallet string) domain.AllowlistStatus {
	if s, ok := m[wallet]; ok {
		return s
	}
	return domain.AllowlistNone
}

func unionKeys[V any](a, b map[string]V) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
