// Package notify delivers change notifications to downstream consumers.
//
// Publishing is best effort: callers log failures and never roll back the
// state change that produced the notification.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/observability"
)

// Publisher delivers a notification.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// New builds a notification with a fresh id and timestamp.
func New(typ, mint string, slot int64, signature string, payload map[string]string) domain.Notification {
	return domain.Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Mint:      mint,
		Slot:      slot,
		Signature: signature,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Discard drops every notification.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, domain.Notification) error { return nil }

// Fanout publishes to several publishers and joins their errors.
type Fanout []Publisher

// Publish implements Publisher. Every publisher is attempted.
func (f Fanout) Publish(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	observability.RecordNotification(n.Type, err)
	return err
}

// Channel delivers notifications to an in-process channel.
// Publish blocks until the receiver is ready or ctx ends.
type Channel struct {
	C chan domain.Notification
}

// NewChannel creates a channel publisher with the given buffer.
func NewChannel(buffer int) *Channel {
	return &Channel{C: make(chan domain.Notification, buffer)}
}

// Publish implements Publisher.
func (c *Channel) Publish(ctx context.Context, n domain.Notification) error {
	select {
	case c.C <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Publisher = Discard{}
	_ Publisher = Fanout(nil)
	_ Publisher = (*Channel)(nil)
)
