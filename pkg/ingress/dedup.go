package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/rallyhouse/rally/pkg/config"
)

// Deduper answers whether a (platform, platform message id) pair has been
// seen within the dedup TTL, recording it as a side effect when it has not.
type Deduper interface {
	Seen(ctx context.Context, platform, messageID string) (bool, error)
}

// NewDeduper picks the Redis-backed deduper when a Redis address is
// configured, so multiple rally processes share one dedup window. Otherwise
// dedup is process-local.
func NewDeduper(cfg config.IngressConfig, rcfg config.RedisConfig) Deduper {
	if rcfg.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		return &redisDeduper{client: client, ttl: cfg.DedupTTL, log: slog.With("component", "ingress.dedup")}
	}
	return newLRUDeduper(cfg.DedupSize, cfg.DedupTTL)
}

type lruDeduper struct {
	cache *expirable.LRU[string, struct{}]
}

func newLRUDeduper(size int, ttl time.Duration) *lruDeduper {
	if size <= 0 {
		size = 100_000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &lruDeduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *lruDeduper) Seen(_ context.Context, platform, messageID string) (bool, error) {
	key := dedupKey(platform, messageID)
	if _, ok := d.cache.Get(key); ok {
		return true, nil
	}
	d.cache.Add(key, struct{}{})
	return false, nil
}

type redisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func (d *redisDeduper) Seen(ctx context.Context, platform, messageID string) (bool, error) {
	set, err := d.client.SetNX(ctx, "rally:dedup:"+dedupKey(platform, messageID), 1, d.ttl).Result()
	if err != nil {
		// Fail open. A Redis blip must not drop legitimate traffic; the
		// worst case is one duplicate reply.
		d.log.Warn("dedup check failed, treating as unseen", "error", err)
		return false, nil
	}
	return !set, nil
}

func dedupKey(platform, messageID string) string {
	return fmt.Sprintf("%s\x00%s", platform, messageID)
}
