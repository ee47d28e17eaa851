package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, capacity int, refill float64) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, capacity, refill, time.Hour), mr
}

func TestAllowConsumesBucket(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "caller-a")
		require.NoError(t, err)
		require.True(t, ok, "request %d should pass", i+1)
	}

	ok, err := limiter.Allow(ctx, "caller-a")
	require.NoError(t, err)
	require.False(t, ok, "bucket exhausted")
}

func TestAllowIsolatesKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, 0)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "caller-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "caller-b")
	require.NoError(t, err)
	require.True(t, ok, "each caller has its own bucket")
}

func TestAllowRefillsOverTime(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, 10)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "caller-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "caller-a")
	require.NoError(t, err)
	require.False(t, ok)

	// Wind the stored refill clock back so the next call sees elapsed time
	// without sleeping.
	mr.HSet("ratelimit:caller-a", "last_ms", "0")

	ok, err = limiter.Allow(ctx, "caller-a")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllowSurfacesRedisErrors(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, 0)
	mr.Close()

	_, err := limiter.Allow(context.Background(), "caller-a")
	require.Error(t, err)
}
