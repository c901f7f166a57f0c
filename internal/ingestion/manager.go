package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/observability"
	"captable-indexer/internal/solana"
)

// State is the subscription manager lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Default manager settings.
const (
	DefaultLivenessInterval  = 30 * time.Second
	DefaultMaxReconnects     = 10
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
)

// ManagerOptions configures a subscription Manager.
type ManagerOptions struct {
	ProgramID  string
	Source     solana.WSClient
	Probe      solana.HealthChecker
	Handler    BatchHandler
	Commitment string

	LivenessInterval  time.Duration
	MaxReconnects     int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// BackOff overrides the exponential delay built from ReconnectDelay and MaxReconnectDelay.
	BackOff backoff.BackOff

	Clock  Clock
	Logger *slog.Logger
}

// Status is a point-in-time view of the manager.
type Status struct {
	IsRunning          bool   `json:"is_running"`
	LastProcessedSlot  int64  `json:"last_processed_slot"`
	ReconnectAttempts  int    `json:"reconnect_attempts"`
	SubscriptionActive bool   `json:"subscription_active"`
	State              string `json:"state"`
}

// Manager owns the live log subscription for one program. It hands every
// notification to the BatchHandler and replaces the subscription when the
// stream breaks or the liveness probe fails.
type Manager struct {
	programID        string
	source           solana.WSClient
	probe            solana.HealthChecker
	handler          BatchHandler
	commitment       string
	livenessInterval time.Duration
	maxReconnects    int
	backoff          backoff.BackOff
	clock            Clock
	logger           *slog.Logger

	state     atomic.Int32
	lastSlot  atomic.Int64
	attempts  atomic.Int32
	subActive atomic.Bool

	mu       sync.Mutex
	sub      solana.LogSubscription
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopping bool
}

// NewManager creates a stopped Manager.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		programID:        opts.ProgramID,
		source:           opts.Source,
		probe:            opts.Probe,
		handler:          opts.Handler,
		commitment:       opts.Commitment,
		livenessInterval: opts.LivenessInterval,
		maxReconnects:    opts.MaxReconnects,
		backoff:          opts.BackOff,
		clock:            opts.Clock,
		logger:           opts.Logger,
	}
	if m.livenessInterval <= 0 {
		m.livenessInterval = DefaultLivenessInterval
	}
	if m.maxReconnects < 0 {
		m.maxReconnects = 0
	}
	if m.commitment == "" {
		m.commitment = solana.CommitmentConfirmed
	}
	if m.backoff == nil {
		delay, maxDelay := opts.ReconnectDelay, opts.MaxReconnectDelay
		if delay <= 0 {
			delay = DefaultReconnectDelay
		}
		if maxDelay <= 0 {
			maxDelay = DefaultMaxReconnectDelay
		}
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = delay
		eb.MaxInterval = maxDelay
		eb.MaxElapsedTime = 0
		m.backoff = eb
	}
	if m.clock == nil {
		m.clock = RealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Start probes liveness, opens the log subscription and begins processing in
// the background. The background loop ends when ctx is cancelled, Stop is
// called, or the reconnect budget is exhausted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	cur := m.State()
	if cur != StateStopped && cur != StateFailed {
		m.mu.Unlock()
		return fmt.Errorf("subscription manager already %s", cur)
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.err = nil
	m.stopping = false
	m.setState(StateStarting)
	m.mu.Unlock()

	if err := m.probe.GetHealth(ctx); err != nil {
		observability.RecordLivenessFailure()
		m.setState(StateStopped)
		return fmt.Errorf("%w: liveness probe: %v", domain.ErrConnection, err)
	}

	sub, err := m.subscribe(ctx)
	if err != nil {
		m.setState(StateStopped)
		return fmt.Errorf("%w: subscribe: %v", domain.ErrConnection, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		cancel()
		m.release()
		m.setState(StateStopped)
		return errors.New("subscription manager stopped while starting")
	}
	m.cancel = cancel
	m.done = done
	m.attempts.Store(0)
	m.backoff.Reset()
	m.setState(StateRunning)
	m.mu.Unlock()
	m.logger.Info("subscription started", "program_id", m.programID, "commitment", m.commitment)

	go m.run(runCtx, sub, done)
	return nil
}

// Stop ends the background loop and releases the subscription. Safe to call
// more than once and before Start. A Start still in progress gives up instead
// of entering StateRunning. The manager is left in StateStopped, including
// after the reconnect budget was exhausted.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.stopping = true
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if m.State() == StateFailed {
		m.setState(StateStopped)
	}
}

// Done is closed when the background loop exits. Nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the terminal error after the loop gave up, wrapping domain.ErrMaxReconnects.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Status returns the current status.
func (m *Manager) Status() Status {
	st := m.State()
	return Status{
		IsRunning:          st == StateRunning || st == StateReconnecting,
		LastProcessedSlot:  m.lastSlot.Load(),
		ReconnectAttempts:  int(m.attempts.Load()),
		SubscriptionActive: m.subActive.Load(),
		State:              st.String(),
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	observability.SetSubscriptionState(int32(s))
}

func (m *Manager) run(ctx context.Context, sub solana.LogSubscription, done chan struct{}) {
	defer close(done)

	ticker := m.clock.NewTicker(m.livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.release()
			m.setState(StateStopped)
			m.logger.Info("subscription stopped", "program_id", m.programID)
			return

		case n, ok := <-sub.Notifications():
			if !ok {
				if sub = m.reconnect(ctx, errors.New("notification stream closed")); sub == nil {
					return
				}
				continue
			}
			m.handle(ctx, n)

		case err, ok := <-sub.Errors():
			if !ok || err == nil {
				err = errors.New("subscription closed")
			}
			if sub = m.reconnect(ctx, err); sub == nil {
				return
			}

		case <-ticker.C():
			if err := m.probe.GetHealth(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				observability.RecordLivenessFailure()
				if sub = m.reconnect(ctx, fmt.Errorf("liveness probe: %w", err)); sub == nil {
					return
				}
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, n solana.LogNotification) {
	m.observeSlot(n.Slot)

	res, err := m.handler.HandleLogs(ctx, LogBatch{
		Signature: n.Signature,
		Slot:      n.Slot,
		BlockTime: m.clock.Now(),
		Logs:      n.Logs,
		Err:       n.Err,
	})
	if err != nil {
		m.logger.Warn("batch handling interrupted", "signature", n.Signature, "error", err)
		return
	}
	if res.Failed > 0 {
		m.logger.Warn("batch projected with failures",
			"signature", n.Signature,
			"slot", n.Slot,
			"failed", res.Failed,
			"projected", res.Projected,
		)
	}

	// Only consecutive failures consume the reconnect budget.
	if m.attempts.Swap(0) != 0 {
		m.backoff.Reset()
	}
}

// observeSlot records the highest slot seen, regardless of projection outcome.
func (m *Manager) observeSlot(slot int64) {
	for {
		cur := m.lastSlot.Load()
		if slot <= cur {
			return
		}
		if m.lastSlot.CompareAndSwap(cur, slot) {
			observability.UpdateHighestSlot(slot)
			return
		}
	}
}

// reconnect replaces a broken subscription. It returns nil when the manager
// should exit, either because ctx ended or the reconnect budget ran out.
func (m *Manager) reconnect(ctx context.Context, cause error) solana.LogSubscription {
	m.setState(StateReconnecting)
	m.release()
	m.logger.Warn("subscription lost", "program_id", m.programID, "error", cause)

	for {
		attempt := int(m.attempts.Add(1))
		if attempt > m.maxReconnects {
			m.attempts.Add(-1)
			m.fail(cause)
			return nil
		}
		observability.RecordReconnect()

		delay := m.backoff.NextBackOff()
		if delay == backoff.Stop {
			m.fail(cause)
			return nil
		}
		m.logger.Info("reconnecting", "attempt", attempt, "max_attempts", m.maxReconnects, "delay", delay)

		select {
		case <-ctx.Done():
			m.setState(StateStopped)
			return nil
		case <-m.clock.After(delay):
		}

		if err := m.probe.GetHealth(ctx); err != nil {
			observability.RecordLivenessFailure()
			cause = fmt.Errorf("liveness probe: %w", err)
			m.logger.Warn("reconnect probe failed", "attempt", attempt, "error", err)
			continue
		}
		sub, err := m.subscribe(ctx)
		if err != nil {
			cause = err
			m.logger.Warn("resubscribe failed", "attempt", attempt, "error", err)
			continue
		}

		if g, ok := m.handler.(GapObserver); ok {
			g.StreamGap("resubscribed after " + cause.Error())
		}
		m.setState(StateRunning)
		m.logger.Info("subscription restored", "attempt", attempt)
		return sub
	}
}

func (m *Manager) fail(cause error) {
	err := fmt.Errorf("%w after %d attempts: %v", domain.ErrMaxReconnects, m.maxReconnects, cause)
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.setState(StateFailed)
	m.logger.Error("subscription failed", "program_id", m.programID, "error", err)
}

func (m *Manager) subscribe(ctx context.Context) (solana.LogSubscription, error) {
	sub, err := m.source.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions:   []string{m.programID},
		Commitment: m.commitment,
	})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	m.subActive.Store(true)
	return sub, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	m.subActive.Store(false)

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Debug("unsubscribe failed", "error", err)
		}
	}
}
