package redisclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/redisclient"
)

func newTestClient(t *testing.T) redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := redisclient.NewFromUniversalClient(rdb, config.Default().Redis)
	require.NoError(t, err)
	return c
}

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Set(ctx, "k", "v"))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Get(ctx, "missing")
	require.Equal(t, cacheerr.NotFound, cacheerr.CodeOf(err))
}

func TestSetEXAppliesTTL(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.SetEX(ctx, "k", "v", time.Minute))
	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestDelAndExists(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Set(ctx, "k", "v"))
	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := c.Del(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrByDecrBy(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	v, err := c.IncrBy(ctx, "counter", 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	v, err = c.DecrBy(ctx, "counter", 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
}

func TestMGetMSet(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.MSet(ctx, map[string]string{"a": "1", "b": "2"}))
	vals, err := c.MGet(ctx, "a", "b", "missing")
	require.NoError(t, err)
	require.Equal(t, []any{"1", "2", nil}, vals)
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Ping(ctx)
	require.NoError(t, err)
}

func TestRepeatedMissesDoNotOpenCircuit(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	for i := 0; i < 20; i++ {
		_, err := c.Get(ctx, "never-set")
		require.Equal(t, cacheerr.NotFound, cacheerr.CodeOf(err))
	}

	// A healthy call still goes through: the misses above must not have
	// tripped the breaker.
	require.NoError(t, c.Set(ctx, "k", "v"))
}
