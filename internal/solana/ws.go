package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeLogs subscribes to program logs matching the filter.
	// The returned subscription owns its connection; a transport failure is
	// reported once on Errors and the subscription must be replaced.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (LogSubscription, error)

	// Close releases every open subscription.
	Close() error
}

// LogSubscription is a live logsSubscribe stream.
type LogSubscription interface {
	// Notifications delivers log notifications in arrival order.
	Notifications() <-chan LogNotification

	// Errors receives at most one error when the stream breaks.
	Errors() <-chan error

	// Unsubscribe sends logsUnsubscribe and closes the connection. Safe to call twice.
	Unsubscribe() error
}

// LogsFilter defines subscription filter for logs.
type LogsFilter struct {
	// Mentions filters logs that mention any of these program IDs.
	Mentions []string
	// Commitment defaults to confirmed.
	Commitment string
}

// LogNotification represents a logs subscription message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	Err       interface{}
}
