package redisclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/redisclient"
)

// TestAgainstRealRedis exercises the full command vocabulary against a
// containerized Redis. Skipped in -short runs and wherever Docker is
// unavailable.
func TestAgainstRealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{endpoint}})
	t.Cleanup(func() { _ = rdb.Close() })

	client, err := redisclient.NewFromUniversalClient(rdb, config.Default().Redis)
	require.NoError(t, err)

	require.NoError(t, client.Set(ctx, "k", "v"))
	v, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	require.NoError(t, client.SetEX(ctx, "exp", "v", time.Minute))
	ttl, err := client.TTL(ctx, "exp")
	require.NoError(t, err)
	require.Greater(t, ttl, 50*time.Second)

	n, err := client.IncrBy(ctx, "ctr", 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = client.Ping(ctx)
	require.NoError(t, err)
}
