package ingestion

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/decoder"
	"captable-indexer/internal/domain"
	"captable-indexer/internal/projector"
	"captable-indexer/internal/solana"
	"captable-indexer/internal/storage"
	"captable-indexer/internal/storage/memory"
)

func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	programID = key(9)
	mint      = key(1)
	otherMint = key(7)
	alice     = key(2)
	bob       = key(3)
	issuer    = key(4)
)

func programLogs(t *testing.T, events ...domain.Event) []string {
	t.Helper()
	logs, err := decoder.ProgramLogs(programID, events...)
	require.NoError(t, err)
	return logs
}

func initToken(m string) domain.TokenInitialized {
	return domain.TokenInitialized{Authority: issuer, Mint: m, Symbol: "ACME", Name: "Acme Corp", Decimals: 0}
}

func minted(m, to string, amount, supply int64) domain.TokensMinted {
	return domain.TokensMinted{Mint: m, Recipient: to, Amount: decimal.NewFromInt(amount), NewSupply: decimal.NewFromInt(supply)}
}

// newProjectingPipeline wires a real projector over memory stores.
func newProjectingPipeline() (*Pipeline, *storage.Stores) {
	stores := memory.NewStores()
	p := projector.New(projector.Options{
		ProgramID:  programID,
		Securities: stores.Securities,
		Balances:   stores.Balances,
		Allowlist:  stores.Allowlist,
		Transfers:  stores.Transfers,
	})
	return NewPipeline(PipelineOptions{
		ProgramID: programID,
		Projector: p,
		Cursors:   stores.Cursors,
	}), stores
}

// fakeClock fires After immediately and ticks only on demand.
type fakeClock struct {
	ticks chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticks: make(chan time.Time)}
}

func (c *fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) NewTicker(time.Duration) Ticker { return fakeTicker{c: c.ticks} }

// Tick blocks until the manager loop receives the tick.
func (c *fakeClock) Tick() { c.ticks <- c.Now() }

type fakeTicker struct{ c chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.c }
func (t fakeTicker) Stop()               {}

// fakeProbe fails the next Failures calls, or every call when Down is set.
type fakeProbe struct {
	failures atomic.Int32
	down     atomic.Bool
	calls    atomic.Int32
}

func (p *fakeProbe) GetHealth(context.Context) error {
	p.calls.Add(1)
	if p.down.Load() {
		return errors.New("node is behind")
	}
	for {
		n := p.failures.Load()
		if n <= 0 {
			return nil
		}
		if p.failures.CompareAndSwap(n, n-1) {
			return errors.New("node is behind")
		}
	}
}

type fakeSub struct {
	notifs       chan solana.LogNotification
	errs         chan error
	unsubscribed atomic.Bool
}

func (s *fakeSub) Notifications() <-chan solana.LogNotification { return s.notifs }
func (s *fakeSub) Errors() <-chan error                         { return s.errs }
func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed.Store(true)
	return nil
}

// fakeSource hands out fakeSubs and publishes each on Created.
type fakeSource struct {
	mu      sync.Mutex
	subs    []*fakeSub
	filters []solana.LogsFilter
	fail    error
	Created chan *fakeSub
}

func newFakeSource() *fakeSource {
	return &fakeSource{Created: make(chan *fakeSub, 32)}
}

func (s *fakeSource) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (solana.LogSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	sub := &fakeSub{notifs: make(chan solana.LogNotification), errs: make(chan error, 1)}
	s.subs = append(s.subs, sub)
	s.filters = append(s.filters, filter)
	s.Created <- sub
	return sub, nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// recordingHandler forwards every batch to Batches.
type recordingHandler struct {
	Batches chan LogBatch
	gaps    atomic.Int32
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{Batches: make(chan LogBatch, 32)}
}

func (h *recordingHandler) HandleLogs(_ context.Context, b LogBatch) (BatchResult, error) {
	h.Batches <- b
	return BatchResult{}, nil
}

func (h *recordingHandler) StreamGap(string) { h.gaps.Add(1) }

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting")
	}
	var zero T
	return zero
}
