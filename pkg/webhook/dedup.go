package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryIDHeader is the optional delivery identifier set by webhook
// providers that redeliver events.
const DeliveryIDHeader = "X-Delivery-ID"

const defaultDedupTTL = 24 * time.Hour

// Deduper tracks webhook delivery ids so redelivered events do not create
// duplicate executions. MarkSeen reports true when the delivery id was
// already recorded within the retention window.
type Deduper interface {
	MarkSeen(ctx context.Context, deliveryID string) (bool, error)
}

// RedisDeduper stores delivery ids in redis with a TTL, so deduplication
// holds across all trigger server instances.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) MarkSeen(ctx context.Context, deliveryID string) (bool, error) {
	stored, err := d.client.SetNX(ctx, "flowprobe:delivery:"+deliveryID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery id: %w", err)
	}

	return !stored, nil
}

// NoopDeduper never reports duplicates. Used when no redis is configured;
// every delivery then creates its own execution.
type NoopDeduper struct{}

func (NoopDeduper) MarkSeen(_ context.Context, _ string) (bool, error) {
	return false, nil
}
