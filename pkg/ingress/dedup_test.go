package ingress

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/config"
)

func TestLRUDeduperSeen(t *testing.T) {
	d := newLRUDeduper(16, time.Minute)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "telegram", "42")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "telegram", "42")
	require.NoError(t, err)
	assert.True(t, seen)

	// Same id on another platform is a distinct message.
	seen, err = d.Seen(ctx, "discord", "42")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeduperSeen(t *testing.T) {
	srv := miniredis.RunT(t)
	d := NewDeduper(
		config.IngressConfig{DedupTTL: time.Minute},
		config.RedisConfig{Addr: srv.Addr()},
	)
	require.IsType(t, &redisDeduper{}, d)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "web", "abc")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = d.Seen(ctx, "web", "abc")
	require.NoError(t, err)
	assert.True(t, seen)

	// The key expires with the configured TTL.
	srv.FastForward(2 * time.Minute)
	seen, err = d.Seen(ctx, "web", "abc")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeduperFailsOpen(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	d := &redisDeduper{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    time.Minute,
		log:    discardLogger(),
	}
	seen, err := d.Seen(context.Background(), "web", "abc")
	require.NoError(t, err)
	assert.False(t, seen)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
