package ownership

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
)

// ConcentrationMetrics computes top-N holdings and the Gini coefficient of
// the live cap table.
func (e *Engine) ConcentrationMetrics(ctx context.Context, mint string) (*domain.ConcentrationMetrics, error) {
	table, err := e.ComputeCapTable(ctx, mint, nil)
	if err != nil {
		return nil, err
	}

	amounts := make([]decimal.Decimal, len(table.Holders))
	for i, h := range table.Holders {
		amounts[i] = h.Amount
	}
	g := Gini(amounts)

	return &domain.ConcentrationMetrics{
		Mint:           mint,
		HolderCount:    len(table.Holders),
		Top1Percent:    topPercent(table.Holders, 1),
		Top5Percent:    topPercent(table.Holders, 5),
		Top10Percent:   topPercent(table.Holders, 10),
		Gini:           g,
		Interpretation: Interpret(g),
	}, nil
}

// topPercent sums the percentages of the first n holders. Holders are
// already ranked by amount.
func topPercent(holders []domain.Holder, n int) decimal.Decimal {
	if n > len(holders) {
		n = len(holders)
	}
	sum := decimal.Zero
	for _, h := range holders[:n] {
		sum = sum.Add(h.Percentage)
	}
	return sum
}

// Gini returns the Gini coefficient of amounts rounded to PercentScale:
//
//	G = 2·Σ i·a_i / (n·Σa) − (n+1)/n, with a sorted ascending and i from 1.
//
// It is 0 for an empty distribution or a zero total.
func Gini(amounts []decimal.Decimal) decimal.Decimal {
	n := len(amounts)
	if n == 0 {
		return decimal.Zero
	}

	sorted := append([]decimal.Decimal(nil), amounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	total := decimal.Zero
	weighted := decimal.Zero
	for i, a := range sorted {
		total = total.Add(a)
		weighted = weighted.Add(a.Mul(decimal.NewFromInt(int64(i + 1))))
	}
	if total.IsZero() {
		return decimal.Zero
	}

	nd := decimal.NewFromInt(int64(n))
	g := weighted.Mul(decimal.NewFromInt(2)).Div(nd.Mul(total)).
		Sub(nd.Add(decimal.NewFromInt(1)).Div(nd))
	if g.IsNegative() {
		g = decimal.Zero
	}
	return g.Round(PercentScale)
}

// Interpret buckets a Gini coefficient.
func Interpret(g decimal.Decimal) string {
	switch f := g.InexactFloat64(); {
	case f < 0.2:
		return "very equal"
	case f < 0.4:
		return "relatively equal"
	case f < 0.6:
		return "moderate concentration"
	case f < 0.8:
		return "high concentration"
	default:
		return "very high concentration"
	}
}
