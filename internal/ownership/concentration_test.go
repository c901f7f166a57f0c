package ownership

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
)

func amounts(ns ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(ns))
	for i, n := range ns {
		out[i] = decimal.NewFromInt(n)
	}
	return out
}

func TestGini(t *testing.T) {
	tests := []struct {
		name    string
		amounts []decimal.Decimal
		want    string
	}{
		{"empty", nil, "0"},
		{"single holder", amounts(500), "0"},
		{"perfectly equal", amounts(100, 100, 100), "0"},
		{"linear", amounts(4, 1, 3, 2), "0.25"},
		{"zero total", amounts(0, 0), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Gini(tt.amounts)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestGini_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(30)
		as := make([]decimal.Decimal, n)
		for j := range as {
			as[j] = decimal.NewFromInt(1 + rng.Int63n(1_000_000))
		}
		g := Gini(as)
		assert.False(t, g.IsNegative(), "gini %s below 0", g)
		assert.True(t, g.LessThan(decimal.NewFromInt(1)), "gini %s not below 1", g)
	}
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		gini string
		want string
	}{
		{"0", "very equal"},
		{"0.1999", "very equal"},
		{"0.2", "relatively equal"},
		{"0.45", "moderate concentration"},
		{"0.7", "high concentration"},
		{"0.8", "very high concentration"},
		{"0.95", "very high concentration"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Interpret(decimal.RequireFromString(tt.gini)), tt.gini)
	}
}

func TestConcentrationMetrics(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	m, err := f.engine.ConcentrationMetrics(context.Background(), mint)
	require.NoError(t, err)

	assert.Equal(t, 3, m.HolderCount)
	assert.True(t, m.Top1Percent.Equal(d(60)))
	assert.True(t, m.Top5Percent.Equal(d(100)), "top 5 is capped at holder count")
	assert.True(t, m.Top10Percent.Equal(d(100)))
	assert.Equal(t, "0.3333", m.Gini.String())
	assert.Equal(t, "relatively equal", m.Interpretation)
}

func TestConcentrationMetrics_NoHolders(t *testing.T) {
	f := newFixture(t)
	f.security(t, 0)

	m, err := f.engine.ConcentrationMetrics(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, 0, m.HolderCount)
	assert.True(t, m.Gini.IsZero())
	assert.True(t, m.Top1Percent.IsZero())
	assert.Equal(t, "very equal", m.Interpretation)
}

func TestConcentrationMetrics_UnknownSecurity(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ConcentrationMetrics(context.Background(), mint)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
