// Package realtime pushes order status updates to live subscribers over Redis.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopfront/api/internal/services"
)

const (
	channelPrefix   = "order-"
	statusKeyPrefix = "order:status:"
)

// ChannelName returns the pub/sub channel clients subscribe to for an order.
func ChannelName(orderID string) string {
	return channelPrefix + strings.TrimSpace(orderID)
}

// RedisStatusPublisher publishes status events on "order-<orderId>" and keeps the latest status
// under "order:status:<orderId>" so late subscribers can catch up.
type RedisStatusPublisher struct {
	rdb       redis.UniversalClient
	statusTTL time.Duration
}

var _ services.StatusPublisher = (*RedisStatusPublisher)(nil)

// NewRedisStatusPublisher constructs the publisher. A zero ttl keeps the status key forever.
func NewRedisStatusPublisher(rdb redis.UniversalClient, ttl time.Duration) (*RedisStatusPublisher, error) {
	if rdb == nil {
		return nil, errors.New("redis status publisher: client is required")
	}
	return &RedisStatusPublisher{rdb: rdb, statusTTL: ttl}, nil
}

// PublishStatus writes the latest status and publishes the event in a single pipeline.
func (p *RedisStatusPublisher) PublishStatus(ctx context.Context, event services.OrderStatusEvent) error {
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return errors.New("redis status publisher: order id is required")
	}
	channel := event.Channel
	if channel == "" {
		channel = ChannelName(orderID)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, statusKeyPrefix+orderID, event.Status, p.statusTTL)
	pipe.Publish(ctx, channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// LastStatus returns the most recently published status, or "" when none is cached.
func (p *RedisStatusPublisher) LastStatus(ctx context.Context, orderID string) (string, error) {
	status, err := p.rdb.Get(ctx, statusKeyPrefix+strings.TrimSpace(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return status, err
}

// Ping reports whether Redis is reachable. Used by the readiness probe.
func (p *RedisStatusPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
