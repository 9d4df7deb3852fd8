package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tenantcache/platform/internal/cache"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/redisclient"
)

func newTestManager(t *testing.T) *cache.Manager {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })

	rc, err := redisclient.NewFromUniversalClient(rdb, config.Default().Redis)
	require.NoError(t, err)

	m, err := cache.New(rc, config.Default().Tenants)
	require.NoError(t, err)
	return m
}

func mustCreateTenant(t *testing.T, m *cache.Manager, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := m.CreateTenant(ctx, cache.CreateTenantSpec{
		ID:                id,
		Name:              "Tenant " + id,
		MemoryLimitMB:     1,
		RequestsPerSecond: 1000,
		MaxConnections:    10,
	})
	require.NoError(t, err)
}

func TestCreateTenantRejectsDuplicate(t *testing.T) {
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	_, err := m.CreateTenant(context.Background(), cache.CreateTenantSpec{ID: "acme", Name: "Acme Again"})
	require.Equal(t, cacheerr.AlreadyExists, cacheerr.CodeOf(err))
}

func TestGetSetRoundTripPerTenant(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	require.NoError(t, m.Set(ctx, "acme", "k1", "v1", 0))
	v, err := m.Get(ctx, "acme", "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", v)
}

func TestGetUnknownTenantIsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get(context.Background(), "ghost", "k1")
	require.Equal(t, cacheerr.NotFound, cacheerr.CodeOf(err))
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	_, err := m.Get(ctx, "acme", "missing")
	require.Equal(t, cacheerr.NotFound, cacheerr.CodeOf(err))
}

func TestSetRejectsOverQuota(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	ctx2 := ctx

	_, err := m.CreateTenant(ctx2, cache.CreateTenantSpec{
		ID:            "tiny",
		Name:          "Tiny Tenant",
		MemoryLimitMB: 0,
	})
	require.NoError(t, err)
	// Force a tiny limit directly via ModifyTenantQuotas so the encoded
	// payload below is guaranteed to exceed it.
	zero := 0
	_, err = m.ModifyTenantQuotas(ctx, "tiny", &zero, nil)
	require.NoError(t, err)

	err = m.Set(ctx, "tiny", "k", "this value should not fit", 0)
	require.Equal(t, cacheerr.QuotaExceeded, cacheerr.CodeOf(err))
}

func TestDeleteTenantWipesKeyspace(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	require.NoError(t, m.Set(ctx, "acme", "k1", "v1", 0))
	require.NoError(t, m.Set(ctx, "acme", "k2", "v2", 0))

	require.NoError(t, m.DeleteTenant(ctx, "acme"))

	_, err := m.GetTenantDetails("acme")
	require.Equal(t, cacheerr.NotFound, cacheerr.CodeOf(err))

	// Re-creating the tenant must see a clean key-space.
	mustCreateTenant(t, m, "acme")
	_, err = m.Get(ctx, "acme", "k1")
	require.Equal(t, cacheerr.NotFound, cacheerr.CodeOf(err))
}

func TestIncrDecr(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	v, err := m.Incr(ctx, "acme", "counter", 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)

	v, err = m.Decr(ctx, "acme", "counter", 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}

func TestMSetMGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	require.NoError(t, m.MSet(ctx, "acme", map[string]string{"a": "1", "b": "2"}))

	vals, err := m.MGet(ctx, "acme", []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.Equal(t, "1", *vals[0])
	require.Equal(t, "2", *vals[1])
	require.Nil(t, vals[2])
}

func TestExpireAndTTL(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	require.NoError(t, m.Set(ctx, "acme", "k", "v", 0))
	ok, err := m.Expire(ctx, "acme", "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ttl, err := m.TTL(ctx, "acme", "k")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	require.NoError(t, m.Set(ctx, "acme", "k1", "v1", 0))
	require.NoError(t, m.Set(ctx, "acme", "k2", "v2", 0))

	snap, err := m.BackupTenant(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)

	require.NoError(t, m.Delete(ctx, "acme", "k1"))
	require.NoError(t, m.Delete(ctx, "acme", "k2"))

	require.NoError(t, m.RestoreTenant(ctx, "acme", snap))

	v, err := m.Get(ctx, "acme", "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", v)
}

func TestMetricsTrackHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")

	require.NoError(t, m.Set(ctx, "acme", "k1", "v1", 0))
	_, err := m.Get(ctx, "acme", "k1")
	require.NoError(t, err)
	_, err = m.Get(ctx, "acme", "missing")
	require.Error(t, err)

	metrics, err := m.GetTenantMetrics("acme")
	require.NoError(t, err)
	require.Equal(t, int64(1), metrics.CacheHits)
	require.Equal(t, int64(1), metrics.CacheMisses)
}

func TestListTenants(t *testing.T) {
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")
	mustCreateTenant(t, m, "globex")

	tenants := m.ListTenants()
	require.Len(t, tenants, 2)
}

func TestAdmissionRateLimitsBackToBackOps(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.CreateTenant(ctx, cache.CreateTenantSpec{
		ID:                "slowpoke",
		Name:              "Slowpoke",
		MemoryLimitMB:     64,
		RequestsPerSecond: 1,
		MaxConnections:    10,
	})
	require.NoError(t, err)

	require.NoError(t, m.Set(ctx, "slowpoke", "k", "v", 0))

	// The second op lands well inside the 1 rps window.
	err = m.Set(ctx, "slowpoke", "k", "v2", 0)
	require.Equal(t, cacheerr.RateLimited, cacheerr.CodeOf(err))
}

func TestPersistSystemMetricsWritesSnapshot(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustCreateTenant(t, m, "acme")
	require.NoError(t, m.Set(ctx, "acme", "k", "v", 0))

	require.NoError(t, m.PersistSystemMetrics(ctx, 10*time.Second))

	agg := m.AggregateMetrics()
	require.GreaterOrEqual(t, agg.TotalRequests, int64(1))
}
