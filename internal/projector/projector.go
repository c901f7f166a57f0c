// Package projector applies decoded program events to the ownership store.
//
// Every write is keyed by the event's ledger position, so projecting the same
// event twice, or projecting events out of order, converges to the same state.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/notify"
	"captable-indexer/internal/observability"
	"captable-indexer/internal/solana"
	"captable-indexer/internal/storage"
)

// Options configures a Projector.
type Options struct {
	ProgramID  string
	Securities storage.SecurityStore
	Balances   storage.BalanceStore
	Allowlist  storage.AllowlistStore
	Transfers  storage.TransferStore
	Publisher  notify.Publisher // optional
	Logger     *slog.Logger     // optional
	Now        func() time.Time // optional
}

// Projector turns ledger events into state.
type Projector struct {
	programID  string
	securities storage.SecurityStore
	balances   storage.BalanceStore
	allowlist  storage.AllowlistStore
	transfers  storage.TransferStore
	publisher  notify.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Projector.
func New(opts Options) *Projector {
	p := &Projector{
		programID:  opts.ProgramID,
		securities: opts.Securities,
		balances:   opts.Balances,
		allowlist:  opts.Allowlist,
		transfers:  opts.Transfers,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if p.publisher == nil {
		p.publisher = notify.Discard{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Project applies one event. Events for unknown securities are dropped with a warning.
func (p *Projector) Project(ctx context.Context, ev domain.LedgerEvent) error {
	var err error
	switch e := ev.Event.(type) {
	case domain.TokenInitialized:
		err = p.tokenInitialized(ctx, ev, e)
	case domain.WalletApproved:
		err = p.walletApproved(ctx, ev, e)
	case domain.WalletRevoked:
		err = p.walletRevoked(ctx, ev, e)
	case domain.TokensMinted:
		err = p.tokensMinted(ctx, ev, e)
	case domain.TokensTransferred:
		err = p.tokensTransferred(ctx, ev, e)
	default:
		return fmt.Errorf("%w: unsupported event %T", domain.ErrDecode, ev.Event)
	}

	name := ev.Event.EventName()
	if err != nil {
		observability.RecordEventError(name, errorKind(err))
		return fmt.Errorf("project %s %s#%d: %w", name, ev.Signature, ev.EventIndex, err)
	}
	observability.RecordEventProjected(name)
	return nil
}

// ValidateSecurity checks the metadata rules the program enforces at initialization.
func ValidateSecurity(symbol, name string, decimals uint8) error {
	if n := utf8.RuneCountInString(symbol); n < domain.MinSymbolLen || n > domain.MaxSymbolLen {
		return domain.Validationf("symbol %q must be %d-%d characters", symbol, domain.MinSymbolLen, domain.MaxSymbolLen)
	}
	if n := utf8.RuneCountInString(name); n < domain.MinNameLen || n > domain.MaxNameLen {
		return domain.Validationf("name %q must be %d-%d characters", name, domain.MinNameLen, domain.MaxNameLen)
	}
	if decimals > domain.MaxDecimals {
		return domain.Validationf("decimals %d exceeds %d", decimals, domain.MaxDecimals)
	}
	return nil
}

func (p *Projector) tokenInitialized(ctx context.Context, ev domain.LedgerEvent, e domain.TokenInitialized) error {
	if err := solana.ValidatePublicKey(e.Mint); err != nil {
		return err
	}
	if err := ValidateSecurity(e.Symbol, e.Name, e.Decimals); err != nil {
		return err
	}

	configAddr, err := solana.TokenConfigAddress(p.programID, e.Mint)
	if err != nil {
		p.logger.Warn("derive token config address", "mint", e.Mint, "error", err)
	}

	now := p.now()
	sec := &domain.Security{
		Mint:          e.Mint,
		Symbol:        e.Symbol,
		Name:          e.Name,
		Decimals:      e.Decimals,
		Authority:     e.Authority,
		ConfigAddress: configAddr,
		TotalSupply:   decimal.Zero,
		CurrentSupply: decimal.Zero,
		IsActive:      true,
		CreatedSlot:   ev.Slot,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.securities.Insert(ctx, sec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			p.logger.Debug("security already indexed", "mint", e.Mint, "signature", ev.Signature)
			return nil
		}
		return fmt.Errorf("insert security: %w", err)
	}

	p.logger.Info("security initialized", "mint", e.Mint, "symbol", e.Symbol, "slot", ev.Slot)
	p.publish(ctx, notify.New(domain.NotifyTokenInitialized, e.Mint, ev.Slot, ev.Signature, map[string]string{
		"symbol":    e.Symbol,
		"authority": e.Authority,
	}))
	return nil
}

// knownSecurity reports whether mint is indexed. Missing securities are logged.
func (p *Projector) knownSecurity(ctx context.Context, ev domain.LedgerEvent) (*domain.Security, error) {
	mint := ev.Event.EventMint()
	sec, err := p.securities.Get(ctx, mint)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("event for unknown security dropped",
			"event", ev.Event.EventName(), "mint", mint, "signature", ev.Signature, "slot", ev.Slot)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get security: %w", err)
	}
	return sec, nil
}

func (p *Projector) walletApproved(ctx context.Context, ev domain.LedgerEvent, e domain.WalletApproved) error {
	sec, err := p.knownSecurity(ctx, ev)
	if err != nil || sec == nil {
		return err
	}

	approvedAt := time.Unix(e.Timestamp, 0).UTC()
	entry := &domain.AllowlistEntry{
		Mint:         e.Mint,
		Wallet:       e.Wallet,
		Status:       domain.AllowlistApproved,
		EntryAddress: p.entryAddress(e.Mint, e.Wallet),
		ApprovedBy:   e.ApprovedBy,
		ApprovedAt:   &approvedAt,
		Slot:         ev.Slot,
		Signature:    ev.Signature,
		EventIndex:   ev.EventIndex,
		UpdatedAt:    p.now(),
	}
	changed, err := p.allowlist.Upsert(ctx, entry)
	if err != nil {
		return fmt.Errorf("upsert allowlist: %w", err)
	}
	if changed {
		p.publish(ctx, notify.New(domain.NotifyWalletApproved, e.Mint, ev.Slot, ev.Signature, map[string]string{
			"wallet":      e.Wallet,
			"approved_by": e.ApprovedBy,
		}))
	}
	return nil
}

func (p *Projector) walletRevoked(ctx context.Context, ev domain.LedgerEvent, e domain.WalletRevoked) error {
	sec, err := p.knownSecurity(ctx, ev)
	if err != nil || sec == nil {
		return err
	}

	revokedAt := time.Unix(e.Timestamp, 0).UTC()
	entry := &domain.AllowlistEntry{
		Mint:         e.Mint,
		Wallet:       e.Wallet,
		Status:       domain.AllowlistRevoked,
		EntryAddress: p.entryAddress(e.Mint, e.Wallet),
		RevokedBy:    e.RevokedBy,
		RevokedAt:    &revokedAt,
		Slot:         ev.Slot,
		Signature:    ev.Signature,
		EventIndex:   ev.EventIndex,
		UpdatedAt:    p.now(),
	}
	changed, err := p.allowlist.Upsert(ctx, entry)
	if err != nil {
		return fmt.Errorf("upsert allowlist: %w", err)
	}
	if changed {
		p.publish(ctx, notify.New(domain.NotifyWalletRevoked, e.Mint, ev.Slot, ev.Signature, map[string]string{
			"wallet":     e.Wallet,
			"revoked_by": e.RevokedBy,
		}))
	}
	return nil
}

func (p *Projector) tokensMinted(ctx context.Context, ev domain.LedgerEvent, e domain.TokensMinted) error {
	sec, err := p.knownSecurity(ctx, ev)
	if err != nil || sec == nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return domain.Validationf("mint amount %s must be positive", e.Amount)
	}

	supplyApplied, err := p.securities.ApplySupplyDelta(ctx, &domain.SupplyDelta{
		Mint:       e.Mint,
		Signature:  ev.Signature,
		EventIndex: ev.EventIndex,
		Amount:     e.Amount,
		Slot:       ev.Slot,
	})
	if err != nil {
		return fmt.Errorf("apply supply delta: %w", err)
	}

	balanceApplied, err := p.balances.ApplyDelta(ctx, &domain.BalanceDelta{
		Mint:       e.Mint,
		Wallet:     e.Recipient,
		Signature:  ev.Signature,
		EventIndex: ev.EventIndex,
		Leg:        domain.LegMint,
		Amount:     e.Amount,
		Slot:       ev.Slot,
	})
	if err != nil {
		return fmt.Errorf("apply mint delta: %w", err)
	}

	if supplyApplied {
		p.checkSupply(ctx, e)
	}
	if supplyApplied || balanceApplied {
		payload := map[string]string{
			"recipient":  e.Recipient,
			"amount":     e.Amount.String(),
			"new_supply": e.NewSupply.String(),
		}
		p.publish(ctx, notify.New(domain.NotifyTokensMinted, e.Mint, ev.Slot, ev.Signature, payload))
		p.publish(ctx, notify.New(domain.NotifyCapTableUpdated, e.Mint, ev.Slot, ev.Signature, nil))
	}
	return nil
}

// checkSupply compares the indexed supply with the supply the program reported.
// They differ while mints are still arriving out of order.
func (p *Projector) checkSupply(ctx context.Context, e domain.TokensMinted) {
	sec, err := p.securities.Get(ctx, e.Mint)
	if err != nil {
		return
	}
	if !sec.TotalSupply.Equal(e.NewSupply) {
		p.logger.Warn("indexed supply differs from on-chain supply",
			"mint", e.Mint, "indexed", sec.TotalSupply.String(), "on_chain", e.NewSupply.String())
	}
}

func (p *Projector) tokensTransferred(ctx context.Context, ev domain.LedgerEvent, e domain.TokensTransferred) error {
	sec, err := p.knownSecurity(ctx, ev)
	if err != nil || sec == nil {
		return err
	}
	if !e.Amount.IsPositive() {
		return domain.Validationf("transfer amount %s must be positive", e.Amount)
	}

	err = p.transfers.Insert(ctx, &domain.Transfer{
		Signature:  ev.Signature,
		EventIndex: ev.EventIndex,
		Mint:       e.Mint,
		From:       e.From,
		To:         e.To,
		Amount:     e.Amount,
		Slot:       ev.Slot,
		BlockTime:  ev.BlockTime,
		Status:     domain.TransferConfirmed,
		CreatedAt:  p.now(),
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert transfer: %w", err)
	}

	// Legs are applied independently so a retry only fills in what is missing.
	debitApplied, debitErr := p.balances.ApplyDelta(ctx, &domain.BalanceDelta{
		Mint:       e.Mint,
		Wallet:     e.From,
		Signature:  ev.Signature,
		EventIndex: ev.EventIndex,
		Leg:        domain.LegDebit,
		Amount:     e.Amount.Neg(),
		Slot:       ev.Slot,
	})
	creditApplied, creditErr := p.balances.ApplyDelta(ctx, &domain.BalanceDelta{
		Mint:       e.Mint,
		Wallet:     e.To,
		Signature:  ev.Signature,
		EventIndex: ev.EventIndex,
		Leg:        domain.LegCredit,
		Amount:     e.Amount,
		Slot:       ev.Slot,
	})
	if debitErr != nil {
		debitErr = fmt.Errorf("apply debit: %w", debitErr)
	}
	if creditErr != nil {
		creditErr = fmt.Errorf("apply credit: %w", creditErr)
	}
	if err := errors.Join(debitErr, creditErr); err != nil {
		return err
	}

	if debitApplied || creditApplied {
		payload := map[string]string{
			"from":   e.From,
			"to":     e.To,
			"amount": e.Amount.String(),
		}
		p.publish(ctx, notify.New(domain.NotifyTokensTransferred, e.Mint, ev.Slot, ev.Signature, payload))
		p.publish(ctx, notify.New(domain.NotifyCapTableUpdated, e.Mint, ev.Slot, ev.Signature, nil))
	}
	return nil
}

func (p *Projector) entryAddress(mint, wallet string) string {
	addr, err := solana.AllowlistAddress(p.programID, mint, wallet)
	if err != nil {
		p.logger.Warn("derive allowlist address", "mint", mint, "wallet", wallet, "error", err)
		return ""
	}
	return addr
}

func (p *Projector) publish(ctx context.Context, n domain.Notification) {
	if err := p.publisher.Publish(ctx, n); err != nil {
		p.logger.Warn("notification publish failed", "type", n.Type, "mint", n.Mint, "error", err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}
