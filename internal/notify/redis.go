package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"captable-indexer/internal/domain"
)

// Redis publishes notifications on a pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis wraps a client.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

// Publish implements Publisher.
func (r *Redis) Publish(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

var _ Publisher = (*Redis)(nil)
