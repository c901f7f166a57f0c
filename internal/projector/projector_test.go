package projector

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/notify"
	"captable-indexer/internal/storage"
	"captable-indexer/internal/storage/memory"
)

func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	programID = key(9)
	mint      = key(1)
	alice     = key(2)
	bob       = key(3)
	carol     = key(5)
	issuer    = key(4)
)

type fixture struct {
	stores *storage.Stores
	events *notify.Channel
	p      *Projector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.NewStores()
	events := notify.NewChannel(1024)
	p := New(Options{
		ProgramID:  programID,
		Securities: stores.Securities,
		Balances:   stores.Balances,
		Allowlist:  stores.Allowlist,
		Transfers:  stores.Transfers,
		Publisher:  events,
	})
	return &fixture{stores: stores, events: events, p: p}
}

func at(sig string, idx int, slot int64, ev domain.Event) domain.LedgerEvent {
	return domain.LedgerEvent{Signature: sig, EventIndex: idx, Slot: slot, BlockTime: time.Unix(slot, 0).UTC(), Event: ev}
}

func amount(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func (f *fixture) project(t *testing.T, evs ...domain.LedgerEvent) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, f.p.Project(context.Background(), ev))
	}
}

func (f *fixture) balance(t *testing.T, wallet string) decimal.Decimal {
	t.Helper()
	b, err := f.stores.Balances.Get(context.Background(), mint, wallet)
	if err != nil {
		return decimal.Zero
	}
	return b.Amount
}

func initEvent() domain.LedgerEvent {
	return at("init", 0, 1, domain.TokenInitialized{Authority: issuer, Mint: mint, Symbol: "ACME", Name: "Acme Corp", Decimals: 0})
}

func (f *fixture) drain() []domain.Notification {
	var out []domain.Notification
	for {
		select {
		case n := <-f.events.C:
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestProject_TokenInitialized(t *testing.T) {
	f := newFixture(t)
	f.project(t, initEvent(), initEvent())

	sec, err := f.stores.Securities.Get(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, "ACME", sec.Symbol)
	assert.Equal(t, issuer, sec.Authority)
	assert.True(t, sec.IsActive)
	assert.NotEmpty(t, sec.ConfigAddress)
	assert.True(t, sec.CurrentSupply.IsZero())

	notes := f.drain()
	require.Len(t, notes, 1, "duplicate initialization must not notify")
	assert.Equal(t, domain.NotifyTokenInitialized, notes[0].Type)
	assert.Equal(t, "ACME", notes[0].Payload["symbol"])
}

func TestProject_RejectsInvalidMetadata(t *testing.T) {
	f := newFixture(t)
	err := f.p.Project(context.Background(), at("init", 0, 1,
		domain.TokenInitialized{Authority: issuer, Mint: mint, Symbol: "AC", Name: "Acme", Decimals: 0}))
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = f.p.Project(context.Background(), at("init", 0, 1,
		domain.TokenInitialized{Authority: issuer, Mint: mint, Symbol: "ACME", Name: "Acme", Decimals: 12}))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProject_MintIsIdempotent(t *testing.T) {
	f := newFixture(t)
	minted := at("m1", 0, 10, domain.TokensMinted{Mint: mint, Recipient: alice, Amount: amount(100), NewSupply: amount(100)})
	f.project(t, initEvent(), minted)
	f.drain()

	f.project(t, minted)

	assert.True(t, f.balance(t, alice).Equal(amount(100)))
	sec, _ := f.stores.Securities.Get(context.Background(), mint)
	assert.True(t, sec.TotalSupply.Equal(amount(100)))
	assert.True(t, sec.CurrentSupply.Equal(amount(100)))
	assert.Empty(t, f.drain(), "replayed event must not notify")
}

func TestProject_TransferEmitsNotifications(t *testing.T) {
	f := newFixture(t)
	f.project(t,
		initEvent(),
		at("m1", 0, 10, domain.TokensMinted{Mint: mint, Recipient: alice, Amount: amount(100), NewSupply: amount(100)}),
	)
	f.drain()

	f.project(t, at("t1", 0, 11, domain.TokensTransferred{Mint: mint, From: alice, To: bob, Amount: amount(40)}))

	assert.True(t, f.balance(t, alice).Equal(amount(60)))
	assert.True(t, f.balance(t, bob).Equal(amount(40)))

	types := []string{}
	for _, n := range f.drain() {
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{domain.NotifyTokensTransferred, domain.NotifyCapTableUpdated}, types)

	page, total, err := f.stores.Transfers.Query(context.Background(), domain.TransferQuery{Mint: mint, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, domain.TransferConfirmed, page[0].Status)
}

func TestProject_TwoTransfersInOneTransaction(t *testing.T) {
	f := newFixture(t)
	f.project(t,
		initEvent(),
		at("m1", 0, 10, domain.TokensMinted{Mint: mint, Recipient: alice, Amount: amount(100), NewSupply: amount(100)}),
		at("t1", 0, 11, domain.TokensTransferred{Mint: mint, From: alice, To: bob, Amount: amount(30)}),
		at("t1", 1, 11, domain.TokensTransferred{Mint: mint, From: alice, To: carol, Amount: amount(20)}),
	)

	// Both legs apply; history is keyed by signature and keeps the first row.
	assert.True(t, f.balance(t, alice).Equal(amount(50)))
	assert.True(t, f.balance(t, bob).Equal(amount(30)))
	assert.True(t, f.balance(t, carol).Equal(amount(20)))

	page, total, err := f.stores.Transfers.Query(context.Background(), domain.TransferQuery{Mint: mint, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, bob, page[0].To)
}

func TestProject_SelfTransfer(t *testing.T) {
	f := newFixture(t)
	f.project(t,
		initEvent(),
		at("m1", 0, 10, domain.TokensMinted{Mint: mint, Recipient: alice, Amount: amount(100), NewSupply: amount(100)}),
		at("t1", 0, 11, domain.TokensTransferred{Mint: mint, From: alice, To: alice, Amount: amount(30)}),
	)

	assert.True(t, f.balance(t, alice).Equal(amount(100)))
	b, _ := f.stores.Balances.Get(context.Background(), mint, alice)
	assert.Equal(t, int64(11), b.Slot)
}

func TestProject_OutOfOrderConverges(t *testing.T) {
	ordered := newFixture(t)
	reversed := newFixture(t)

	evs := []domain.LedgerEvent{
		at("m1", 0, 10, domain.TokensMinted{Mint: mint, Recipient: alice, Amount: amount(100), NewSupply: amount(100)}),
		at("t1", 0, 11, domain.TokensTransferred{Mint: mint, From: alice, To: bob, Amount: amount(70)}),
		at("t2", 0, 12, domain.TokensTransferred{Mint: mint, From: bob, To: carol, Amount: amount(20)}),
	}

	ordered.project(t, initEvent())
	ordered.project(t, evs...)

	reversed.project(t, initEvent())
	for i := len(evs) - 1; i >= 0; i-- {
		reversed.project(t, evs[i])
	}

	for _, w := range []string{alice, bob, carol} {
		assert.True(t, ordered.balance(t, w).Equal(reversed.balance(t, w)), "wallet %s", w)
		ob, _ := ordered.stores.Balances.Get(context.Background(), mint, w)
		rb, _ := reversed.stores.Balances.Get(context.Background(), mint, w)
		assert.Equal(t, ob.Slot, rb.Slot)
	}
}

func TestProject_UnknownSecurityDropped(t *testing.T) {
	f := newFixture(t)
	err := f.p.Project(context.Background(),
		at("m1", 0, 10, domain.TokensMinted{Mint: mint, Recipient: alice, Amount: amount(100), NewSupply: amount(100)}))
	require.NoError(t, err)

	_, err = f.stores.Balances.Get(context.Background(), mint, alice)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, f.drain())
}

func TestProject_AllowlistOrdering(t *testing.T) {
	f := newFixture(t)
	f.project(t,
		initEvent(),
		at("r1", 0, 20, domain.WalletRevoked{Mint: mint, Wallet: alice, RevokedBy: issuer, Timestamp: 2000}),
		at("a1", 0, 10, domain.WalletApproved{Mint: mint, Wallet: alice, ApprovedBy: issuer, Timestamp: 1000}),
	)

	e, err := f.stores.Allowlist.Get(context.Background(), mint, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.AllowlistRevoked, e.Status)
	assert.Equal(t, int64(20), e.Slot)
	assert.NotEmpty(t, e.EntryAddress)

	types := []string{}
	for _, n := range f.drain() {
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{domain.NotifyTokenInitialized, domain.NotifyWalletRevoked}, types)
}

func TestProject_AllowlistSameSlotReplay(t *testing.T) {
	f := newFixture(t)
	approve := at("sigA", 0, 100, domain.WalletApproved{Mint: mint, Wallet: alice, ApprovedBy: issuer, Timestamp: 1000})
	revoke := at("sigR", 0, 100, domain.WalletRevoked{Mint: mint, Wallet: alice, RevokedBy: issuer, Timestamp: 1000})

	f.project(t, initEvent(), approve, revoke)
	f.drain()

	f.project(t, approve, revoke)

	e, err := f.stores.Allowlist.Get(context.Background(), mint, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.AllowlistRevoked, e.Status)
	assert.Equal(t, "sigR", e.Signature)
	assert.Empty(t, f.drain(), "replays publish nothing")
}

func TestProject_SupplyConservation(t *testing.T) {
	f := newFixture(t)
	f.project(t, initEvent())

	rng := rand.New(rand.NewSource(42))
	wallets := []string{alice, bob, carol}
	held := map[string]int64{}
	var supply int64
	slot := int64(100)

	for i := 0; i < 200; i++ {
		slot++
		sig := "tx" + decimal.NewFromInt(int64(i)).String()
		if supply == 0 || rng.Intn(3) == 0 {
			to := wallets[rng.Intn(len(wallets))]
			n := int64(rng.Intn(1000) + 1)
			supply += n
			held[to] += n
			f.project(t, at(sig, 0, slot, domain.TokensMinted{Mint: mint, Recipient: to, Amount: amount(n), NewSupply: amount(supply)}))
			continue
		}
		from := wallets[rng.Intn(len(wallets))]
		if held[from] == 0 {
			continue
		}
		to := wallets[rng.Intn(len(wallets))]
		n := int64(rng.Intn(int(held[from]))) + 1
		held[from] -= n
		held[to] += n
		f.project(t, at(sig, 0, slot, domain.TokensTransferred{Mint: mint, From: from, To: to, Amount: amount(n)}))
	}

	holders, err := f.stores.Balances.ListHolders(context.Background(), mint)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, h := range holders {
		sum = sum.Add(h.Amount)
		assert.True(t, h.Amount.Equal(amount(held[h.Wallet])), "wallet %s", h.Wallet)
	}

	sec, _ := f.stores.Securities.Get(context.Background(), mint)
	assert.True(t, sum.Equal(sec.CurrentSupply), "sum %s supply %s", sum, sec.CurrentSupply)
	assert.True(t, sec.TotalSupply.Equal(amount(supply)))
}

func TestValidateSecurity(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		title    string
		decimals uint8
		wantErr  bool
	}{
		{name: "valid", symbol: "ACME", title: "Acme Corp", decimals: 6},
		{name: "symbol min", symbol: "ABC", title: "Ab", decimals: 0},
		{name: "symbol too long", symbol: "ABCDEFGHIJK", title: "Acme", wantErr: true},
		{name: "name too short", symbol: "ACME", title: "A", wantErr: true},
		{name: "decimals max", symbol: "ACME", title: "Acme", decimals: 9},
		{name: "decimals over", symbol: "ACME", title: "Acme", decimals: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecurity(tt.symbol, tt.title, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
