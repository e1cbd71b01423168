package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// DefaultChannel is the pub/sub channel alerts are published on.
const DefaultChannel = "quakerisk:alerts"

// Publisher is the subset of redis.Cmdable used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes alerts as JSON on a Redis channel.
type RedisPublisher struct {
	client  Publisher
	channel string
}

func NewRedisPublisher(client Publisher, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// NewRedisClient dials nothing; go-redis connects lazily on first command.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (p *RedisPublisher) Type() string { return "redis" }

func (p *RedisPublisher) Notify(ctx context.Context, a event.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert marshal error: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("alert publish to %s: %w", p.channel, err)
	}
	return nil
}
