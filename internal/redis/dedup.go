package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InboundDeduper suppresses transport-level redeliveries of inbound
// messages by provider message id. SETNX with a TTL gives first-seen
// wins; on Redis failure the message is treated as unseen, since a
// duplicate reply beats a swallowed one.
type InboundDeduper struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewInboundDeduper(client *redis.Client, ttl time.Duration, log *zap.Logger) *InboundDeduper {
	return &InboundDeduper{client: client, ttl: ttl, log: log}
}

func (d *InboundDeduper) Seen(ctx context.Context, providerMessageID string) bool {
	key := fmt.Sprintf("inbound:%s", providerMessageID)

	fresh, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.log.Warn("inbound dedup check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return !fresh
}
