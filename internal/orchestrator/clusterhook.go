package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/loadbalancer"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/idgen"
)

// ClusterHook is the backend's node-lifecycle seam: node
// admission/removal is routed through this interface rather than
// assuming any particular Redis cluster topology.
// Production deployments that front a real Redis Cluster supply their
// own implementation; the default is a single-endpoint simulation.
type ClusterHook interface {
	// AddNode provisions a new cache endpoint and returns it ready to
	// serve traffic.
	AddNode(ctx context.Context, ordinal int) (tenant.Node, error)
	// RemoveNode releases a previously provisioned endpoint.
	RemoveNode(ctx context.Context, node tenant.Node) error
}

// simulatedClusterHook mints synthetic node records against a single
// backing Redis endpoint, for environments without real cluster
// control.
type simulatedClusterHook struct {
	mu  sync.Mutex
	ids *idgen.Generator
}

// NewSimulatedClusterHook builds the default ClusterHook.
func NewSimulatedClusterHook() ClusterHook {
	ids, err := idgen.New()
	if err != nil {
		// Generator construction only fails on clock/machine-id issues;
		// fall back to ordinal-only node names rather than panic.
		return &simulatedClusterHook{}
	}
	return &simulatedClusterHook{ids: ids}
}

func (h *simulatedClusterHook) AddNode(ctx context.Context, ordinal int) (tenant.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := fmt.Sprintf("node-%d", ordinal)
	if h.ids != nil {
		if s, err := h.ids.NextString(); err == nil {
			id = "node-" + s
		}
	}
	return tenant.Node{
		ID:             id,
		Host:           "127.0.0.1",
		Port:           6379,
		Role:           tenant.RoleMaster,
		Weight:         1,
		MaxConnections: 1000,
	}, nil
}

func (h *simulatedClusterHook) RemoveNode(ctx context.Context, node tenant.Node) error {
	return nil
}

// clusterExecutor adapts the Load Balancer and a ClusterHook into
// scaler.Executor, so the auto-scaler's decision rule drives real node
// registration instead of only incrementing a counter.
type clusterExecutor struct {
	lb   *loadbalancer.Balancer
	hook ClusterHook
	rcfg config.Redis
}

func newClusterExecutor(lb *loadbalancer.Balancer, hook ClusterHook, rcfg config.Redis) *clusterExecutor {
	return &clusterExecutor{lb: lb, hook: hook, rcfg: rcfg}
}

// ScaleUp provisions nodes until the balancer holds targetNodes entries.
func (e *clusterExecutor) ScaleUp(ctx context.Context, targetNodes int) error {
	for len(e.lb.Nodes()) < targetNodes {
		n, err := e.hook.AddNode(ctx, len(e.lb.Nodes())+1)
		if err != nil {
			return err
		}
		if err := e.lb.AddNode(n); err != nil {
			return err
		}
	}
	return nil
}

// ScaleDown drains and removes the most-recently-added nodes first,
// preserving the earliest-provisioned (and presumably longest-lived,
// most thoroughly warmed) endpoints.
func (e *clusterExecutor) ScaleDown(ctx context.Context, targetNodes int) error {
	nodes := e.lb.Nodes()
	for len(nodes) > targetNodes {
		victim := nodes[len(nodes)-1]
		if err := e.lb.RemoveNode(ctx, victim.ID); err != nil {
			return err
		}
		if err := e.hook.RemoveNode(ctx, victim); err != nil {
			return err
		}
		nodes = e.lb.Nodes()
	}
	return nil
}
