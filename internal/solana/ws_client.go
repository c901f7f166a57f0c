package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"captable-indexer/internal/domain"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// BufferSize is the notification channel capacity.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		BufferSize:       10000,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
// Each subscription runs on its own connection so that a reconnect is just
// a new SubscribeLogs call.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig

	closed    atomic.Bool
	requestID atomic.Uint64

	mu   sync.Mutex
	subs map[*logSubscription]struct{}
}

// NewWSClient creates a WebSocket client. No connection is made until SubscribeLogs.
func NewWSClient(endpoint string, config *WSClientConfig) *WSClientImpl {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWSConfig().BufferSize
	}
	return &WSClientImpl{
		endpoint: endpoint,
		config:   cfg,
		subs:     make(map[*logSubscription]struct{}),
	}
}

// SubscribeLogs dials, sends logsSubscribe and waits for the subscription id.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (LogSubscription, error) {
	if c.closed.Load() {
		return nil, errors.New("client closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", domain.ErrConnection, err)
	}

	mentions := make(map[string]interface{})
	if len(filter.Mentions) > 0 {
		mentions["mentions"] = filter.Mentions
	} else {
		mentions["all"] = nil
	}
	commitment := filter.Commitment
	if commitment == "" {
		commitment = CommitmentConfirmed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			mentions,
			map[string]string{"commitment": commitment},
		},
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: write subscribe: %v", domain.ErrConnection, err)
	}

	subID, err := c.awaitConfirmation(ctx, conn, reqID)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sub := &logSubscription{
		client: c,
		conn:   conn,
		subID:  subID,
		notifs: make(chan LogNotification, c.config.BufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	sub.wg.Add(2)
	go sub.readLoop()
	go sub.pingLoop()

	return sub, nil
}

// awaitConfirmation reads until the response for reqID arrives.
func (c *WSClientImpl) awaitConfirmation(ctx context.Context, conn *websocket.Conn, reqID uint64) (int64, error) {
	deadline := time.Now().Add(c.config.SubscribeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("%w: await subscription: %v", domain.ErrConnection, err)
		}

		var resp wsResponse
		if err := json.Unmarshal(message, &resp); err != nil || resp.ID != reqID {
			continue
		}
		if resp.Error != nil {
			return 0, fmt.Errorf("%w: subscribe rejected: %d %s", domain.ErrConnection, resp.Error.Code, resp.Error.Message)
		}
		var subID int64
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			return 0, fmt.Errorf("%w: bad subscription id: %v", domain.ErrConnection, err)
		}
		return subID, nil
	}
}

// Close closes every open subscription.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.mu.Lock()
	subs := make([]*logSubscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *WSClientImpl) forget(s *logSubscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

// logSubscription is a single logsSubscribe stream on its own connection.
type logSubscription struct {
	client *WSClientImpl
	conn   *websocket.Conn
	connMu sync.Mutex
	subID  int64

	notifs chan LogNotification
	errs   chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *logSubscription) Notifications() <-chan LogNotification { return s.notifs }

func (s *logSubscription) Errors() <-chan error { return s.errs }

// Unsubscribe sends logsUnsubscribe and tears the connection down.
func (s *logSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		close(s.done)

		s.connMu.Lock()
		req := wsRequest{
			JSONRPC: "2.0",
			ID:      s.client.requestID.Add(1),
			Method:  "logsUnsubscribe",
			Params:  []interface{}{s.subID},
		}
		s.conn.SetWriteDeadline(time.Now().Add(s.client.config.WriteTimeout))
		if werr := s.conn.WriteJSON(req); werr == nil {
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		err = s.conn.Close()
		s.connMu.Unlock()

		s.wg.Wait()
		s.client.forget(s)
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// readLoop reads messages and dispatches notifications until the connection breaks.
func (s *logSubscription) readLoop() {
	defer s.wg.Done()

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.client.config.ReadTimeout))
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.errs <- fmt.Errorf("%w: websocket read: %v", domain.ErrConnection, err)
			}
			return
		}

		var notif wsNotification
		if err := json.Unmarshal(message, &notif); err != nil || notif.Method != "logsNotification" || notif.Params == nil {
			continue
		}
		if notif.Params.Subscription != s.subID {
			continue
		}

		value := notif.Params.Result.Value
		logNotif := LogNotification{
			Signature: value.Signature,
			Logs:      value.Logs,
			Err:       value.Err,
		}
		if notif.Params.Result.Context != nil {
			logNotif.Slot = notif.Params.Result.Context.Slot
		}

		// Block until we can send - never drop events
		select {
		case s.notifs <- logNotif:
		case <-s.done:
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *logSubscription) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.client.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.client.config.WriteTimeout))
			// A failed ping surfaces as a read error.
			_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			s.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}

var _ WSClient = (*WSClientImpl)(nil)
