package ownership

import (
	"context"
	"fmt"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/solana"
)

// Transfer history paging limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 1000
)

// TransferPage is one page of transfer history.
type TransferPage struct {
	Transfers []*domain.Transfer `json:"transfers"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// TransferHistory returns transfers of a security, newest first, optionally
// filtered by sender and recipient.
func (e *Engine) TransferHistory(ctx context.Context, q domain.TransferQuery) (*TransferPage, error) {
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit < 0 || q.Limit > MaxHistoryLimit {
		return nil, domain.Validationf("limit %d must be between 1 and %d", q.Limit, MaxHistoryLimit)
	}
	if q.Offset < 0 {
		return nil, domain.Validationf("offset %d must not be negative", q.Offset)
	}
	for _, w := range []string{q.FromWallet, q.ToWallet} {
		if w == "" {
			continue
		}
		if err := solana.ValidatePublicKey(w); err != nil {
			return nil, err
		}
	}

	if _, err := e.security(ctx, q.Mint); err != nil {
		return nil, err
	}

	transfers, total, err := e.transfers.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	return &TransferPage{Transfers: transfers, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}
