package loadbalancer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenantcache/platform/internal/loadbalancer"
	"github.com/tenantcache/platform/internal/tenant"
)

func addNodes(t *testing.T, b *loadbalancer.Balancer, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, b.AddNode(tenant.Node{ID: id, Host: "localhost", Port: 6379, MaxConnections: 10}))
	}
}

func TestAddNodeRejectsDuplicate(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1")

	err := b.AddNode(tenant.Node{ID: "n1"})
	require.Error(t, err)
}

func TestRoundRobinCyclesThroughNodes(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1", "n2", "n3")

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		n, err := b.Select(loadbalancer.RoundRobin, "tenant", "key")
		require.NoError(t, err)
		seen[n.ID]++
	}
	require.Equal(t, 3, seen["n1"])
	require.Equal(t, 3, seen["n2"])
	require.Equal(t, 3, seen["n3"])
}

func TestLeastConnectionsPicksLowest(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1", "n2")

	require.NoError(t, b.Acquire("n1"))
	require.NoError(t, b.Acquire("n1"))
	require.NoError(t, b.Acquire("n2"))

	n, err := b.Select(loadbalancer.LeastConnections, "tenant", "key")
	require.NoError(t, err)
	require.Equal(t, "n2", n.ID)
}

func TestConsistentHashIsStableAcrossCalls(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1", "n2", "n3", "n4")

	first, err := b.Select(loadbalancer.ConsistentHash, "acme", "user:42")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := b.Select(loadbalancer.ConsistentHash, "acme", "user:42")
		require.NoError(t, err)
		require.Equal(t, first.ID, again.ID)
	}
}

func TestConsistentHashDegradesWithoutKey(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1", "n2")

	n1, err := b.Select(loadbalancer.ConsistentHash, "acme", "")
	require.NoError(t, err)
	n2, err := b.Select(loadbalancer.ConsistentHash, "acme", "")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n2.ID)
}

func TestAcquireRejectsOverCapacity(t *testing.T) {
	b := loadbalancer.New()
	require.NoError(t, b.AddNode(tenant.Node{ID: "n1", MaxConnections: 1}))

	require.NoError(t, b.Acquire("n1"))
	err := b.Acquire("n1")
	require.Error(t, err)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1")

	require.NoError(t, b.Release("n1"))
	nodes := b.Nodes()
	require.Equal(t, 0, nodes[0].CurrentConnections)
}

func TestUnhealthyNodeExcludedFromSelection(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1", "n2")

	require.NoError(t, b.SetNodeStatus("n1", tenant.NodeOffline, 0))

	for i := 0; i < 5; i++ {
		n, err := b.Select(loadbalancer.RoundRobin, "tenant", "key")
		require.NoError(t, err)
		require.Equal(t, "n2", n.ID)
	}
}

func TestSelectWithNoHealthyNodesIsUnavailable(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1")
	require.NoError(t, b.SetNodeStatus("n1", tenant.NodeOffline, 0))

	_, err := b.Select(loadbalancer.RoundRobin, "tenant", "key")
	require.Error(t, err)
}

func TestRemoveNodeDrainsBeforeDropping(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1")
	require.NoError(t, b.Acquire("n1"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := b.RemoveNode(ctx, "n1")
	require.Error(t, err) // still holding a connection, must not drop

	require.NoError(t, b.Release("n1"))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, b.RemoveNode(ctx2, "n1"))

	require.Len(t, b.Nodes(), 0)
}

func TestRecordRequestFeedsPercentiles(t *testing.T) {
	b := loadbalancer.New()
	addNodes(t, b, "n1")

	for i := 0; i < 100; i++ {
		require.NoError(t, b.RecordRequest("n1", 10*time.Millisecond, true))
	}

	p50, p95, p99, err := b.NodeLatencyPercentiles("n1")
	require.NoError(t, err)
	require.InDelta(t, 10, p50, 1)
	require.InDelta(t, 10, p95, 1)
	require.InDelta(t, 10, p99, 1)
}
