package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/redisclient"
	"github.com/tenantcache/platform/internal/tenant"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })

	rc, err := redisclient.NewFromUniversalClient(rdb, config.Default().Redis)
	require.NoError(t, err)

	o, err := New(config.Default(),
		WithRedisClient(rc),
		WithClock(clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)
	return o
}

func TestCreateTenantThenCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp", MemoryLimitMB: 64, RequestsPerSecond: 1000, MaxConnections: 10})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheSetCommand{TenantID: "acme", Key: "k1", Value: "v1"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheGetCommand{TenantID: "acme", Key: "k1"})
	require.True(t, res.OK, res.Error)
	detail, ok := res.Detail.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "v1", detail["value"])
}

func TestCacheGetMissIsSuccessfulNullValue(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheGetCommand{TenantID: "acme", Key: "missing"})
	require.True(t, res.OK, "cache miss must be a successful result, not an error")
	detail, ok := res.Detail.(map[string]any)
	require.True(t, ok)
	require.Nil(t, detail["value"])
}

func TestCacheDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheDeleteCommand{TenantID: "acme", Key: "absent"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheDeleteCommand{TenantID: "acme", Key: "absent"})
	require.True(t, res.OK, res.Error)
}

func TestUnknownCommandMapsToUnknownCommandCode(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, unrecognizedCommand{})
	require.False(t, res.OK)
	require.Equal(t, string(cacheerr.UnknownCommand), res.Error)
}

type unrecognizedCommand struct{}

func (unrecognizedCommand) isCommand() {}

func TestDeleteTenantThenGetTenantDetailsIsNotFound(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, DeleteTenantCommand{TenantID: "acme"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, GetTenantDetailsCommand{TenantID: "acme"})
	require.False(t, res.OK)
	require.Equal(t, string(cacheerr.NotFound), res.Error)
}

func TestModifyTenantQuotasPartialUpdate(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp", MemoryLimitMB: 64})
	require.True(t, res.OK, res.Error)

	newLimit := 128
	res = o.Execute(ctx, ModifyTenantQuotasCommand{TenantID: "acme", MemoryLimitMB: &newLimit})
	require.True(t, res.OK, res.Error)
}

func TestScaleClusterRespectsConfiguredBounds(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, ScaleClusterCommand{TargetNodes: config.Default().Scaling.MaxNodes + 100})
	require.False(t, res.OK)
	require.Equal(t, string(cacheerr.InvalidArgument), res.Error)
}

func TestConfigureScalingAppliesPartialUpdate(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	newMax := 20
	res := o.Execute(ctx, ConfigureScalingCommand{MaxNodes: &newMax})
	require.True(t, res.OK, res.Error)
}

func TestCreateBackupThenRestoreBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp", MemoryLimitMB: 64})
	require.True(t, res.OK, res.Error)
	res = o.Execute(ctx, CacheSetCommand{TenantID: "acme", Key: "k1", Value: "v1"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CreateBackupCommand{TenantID: "acme"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheDeleteCommand{TenantID: "acme", Key: "k1"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, RestoreBackupCommand{TenantID: "acme"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, CacheGetCommand{TenantID: "acme", Key: "k1"})
	require.True(t, res.OK, res.Error)
	detail := res.Detail.(map[string]any)
	require.Equal(t, "v1", detail["value"])
}

func TestStartStopLifecycle(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))
	require.True(t, o.Running())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, o.Stop(stopCtx))
	require.False(t, o.Running())
}

func TestGetClusterStatusReturnsSystemStatus(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, CreateTenantCommand{ID: "acme", Name: "Acme Corp"})
	require.True(t, res.OK, res.Error)

	res = o.Execute(ctx, GetClusterStatusCommand{})
	require.True(t, res.OK, res.Error)
	status, ok := res.Detail.(tenant.SystemStatus)
	require.True(t, ok)
	require.Equal(t, 1, status.TotalTenants)
}

func TestLoadTestExercisesCacheManager(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	res := o.Execute(ctx, LoadTestCommand{DurationSec: 1, Concurrency: 2})
	require.True(t, res.OK, res.Error)
}
