package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel close-out notices are published on
const DefaultChannel = "auctions:ended"

// RedisPublisher publishes close-out notices as JSON on a Redis channel for
// out-of-process consumers
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel, or DefaultChannel if empty
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Send publishes notice to the configured channel
func (p *RedisPublisher) Send(ctx context.Context, notice CloseOut) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("redis: marshal close-out: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", p.channel, err)
	}
	return nil
}

// Name returns the sender identifier
func (p *RedisPublisher) Name() string {
	return "redis"
}
