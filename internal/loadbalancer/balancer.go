// Package loadbalancer is C4: the node pool and selection algorithms
// fronting a tenant's Redis traffic. It exclusively owns the node table
// and per-node counters; nothing else mutates Node records directly.
package loadbalancer

import (
	"context"
	"crypto/md5" //nolint:gosec // outward hashing contract, not a security boundary
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/tenant"
)

// Algorithm names a node-selection strategy.
type Algorithm string

const (
	RoundRobin       Algorithm = "round_robin"
	LeastConnections Algorithm = "least_connections"
	ConsistentHash   Algorithm = "consistent_hash"
)

const (
	vnodesPerNode  = 150
	reservoirCap   = 1000
	drainTimeout   = 30 * time.Second
	drainPoll      = 50 * time.Millisecond
)

// nodeState is the balancer's private record for one registered node:
// the public tenant.Node plus bookkeeping no other component may see.
type nodeState struct {
	mu        sync.Mutex
	node      tenant.Node
	reservoir latencyReservoir
	requests  int64
}

// Balancer implements C4.
type Balancer struct {
	clock clock.Clock

	mu    sync.RWMutex
	nodes map[string]*nodeState
	order []string // insertion order, for round-robin stability

	rrMu      sync.Mutex
	rrCounter uint64

	ringMu sync.Mutex
	ring   []vnode
}

type vnode struct {
	hash   uint64
	nodeID string
}

// Option configures a Balancer at construction.
type Option func(*Balancer)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(b *Balancer) { b.clock = c }
}

// New builds an empty Balancer.
func New(opts ...Option) *Balancer {
	b := &Balancer{
		clock: clock.System(),
		nodes: make(map[string]*nodeState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddNode registers a new node, online by default.
func (b *Balancer) AddNode(n tenant.Node) error {
	if n.ID == "" {
		return cacheerr.New(cacheerr.InvalidArgument, "node id must not be empty")
	}
	if n.MaxConnections <= 0 {
		n.MaxConnections = 1
	}
	n.Status = tenant.NodeOnline
	n.LastPingTS = b.clock.Now()

	b.mu.Lock()
	if _, exists := b.nodes[n.ID]; exists {
		b.mu.Unlock()
		return cacheerr.New(cacheerr.AlreadyExists, "node already registered: "+n.ID)
	}
	b.nodes[n.ID] = &nodeState{node: n, reservoir: newLatencyReservoir(reservoirCap)}
	b.order = append(b.order, n.ID)
	b.mu.Unlock()

	b.rebuildRing()
	return nil
}

// RemoveNode drains the node (waits up to 30s for current_connections to
// reach 0) then drops its record.
func (b *Balancer) RemoveNode(ctx context.Context, id string) error {
	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return cacheerr.New(cacheerr.NotFound, "node not found: "+id)
	}

	deadline := b.clock.Now().Add(drainTimeout)
	for {
		st.mu.Lock()
		drained := st.node.CurrentConnections == 0
		st.mu.Unlock()
		if drained {
			break
		}
		if b.clock.Now().After(deadline) {
			return cacheerr.New(cacheerr.Timeout, "node drain timed out: "+id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPoll):
		}
	}

	b.mu.Lock()
	delete(b.nodes, id)
	for i, nid := range b.order {
		if nid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.rebuildRing()
	return nil
}

// SetNodeStatus updates a node's liveness bit, as computed by the
// health-check probe loop.
func (b *Balancer) SetNodeStatus(id string, status tenant.NodeStatus, pingLatencyMS float64) error {
	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return cacheerr.New(cacheerr.NotFound, "node not found: "+id)
	}

	st.mu.Lock()
	st.node.Status = status
	st.node.PingLatencyMS = pingLatencyMS
	st.node.LastPingTS = b.clock.Now()
	st.mu.Unlock()
	return nil
}

// Nodes returns a consistent snapshot of every registered node.
func (b *Balancer) Nodes() []tenant.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]tenant.Node, 0, len(b.nodes))
	for _, id := range b.order {
		st := b.nodes[id]
		st.mu.Lock()
		out = append(out, st.node)
		st.mu.Unlock()
	}
	return out
}

func (b *Balancer) healthyIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.order))
	for _, id := range b.order {
		st := b.nodes[id]
		st.mu.Lock()
		online := st.node.Status == tenant.NodeOnline
		st.mu.Unlock()
		if online {
			out = append(out, id)
		}
	}
	return out
}

// Select chooses a node for one (tenant, key) pair under the requested
// algorithm. key may be empty, in which case consistent_hash degrades to
// hashing tenantID alone.
func (b *Balancer) Select(algo Algorithm, tenantID, key string) (tenant.Node, error) {
	healthy := b.healthyIDs()
	if len(healthy) == 0 {
		return tenant.Node{}, cacheerr.New(cacheerr.Unavailable, "no healthy nodes available")
	}

	var id string
	switch algo {
	case RoundRobin:
		id = b.selectRoundRobin(healthy)
	case LeastConnections:
		id = b.selectLeastConnections(healthy)
	case ConsistentHash:
		id = b.selectConsistentHash(healthy, tenantID, key)
	default:
		return tenant.Node{}, cacheerr.New(cacheerr.InvalidArgument, "unknown selection algorithm")
	}

	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return tenant.Node{}, cacheerr.New(cacheerr.Unavailable, "selected node vanished")
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.node, nil
}

func (b *Balancer) selectRoundRobin(healthy []string) string {
	b.rrMu.Lock()
	i := b.rrCounter % uint64(len(healthy))
	b.rrCounter++
	b.rrMu.Unlock()
	return healthy[i]
}

func (b *Balancer) selectLeastConnections(healthy []string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	best := healthy[0]
	bestConns := -1
	for _, id := range healthy {
		st := b.nodes[id]
		st.mu.Lock()
		c := st.node.CurrentConnections
		st.mu.Unlock()
		if bestConns == -1 || c < bestConns || (c == bestConns && id < best) {
			best, bestConns = id, c
		}
	}
	return best
}

// md5Hash128 hashes "{tenant}:{key}" (or tenant alone when key is
// empty) under MD5 and returns the 128-bit integer.
func md5Hash128(tenantID, key string) *big.Int {
	input := tenantID
	if key != "" {
		input = tenantID + ":" + key
	}
	sum := md5.Sum([]byte(input)) //nolint:gosec
	return new(big.Int).SetBytes(sum[:])
}

func (b *Balancer) selectConsistentHash(healthy []string, tenantID, key string) string {
	// The outward contract is MD5-based; internally a vnode ring refined
	// with xxhash gives an even distribution without recomputing MD5 for
	// every vnode. A given (tenant,key) always lands on the same node
	// while the healthy set is unchanged, per the public contract.
	h := md5Hash128(tenantID, key)
	ringHash := xxhash.Sum64(h.Bytes())

	healthySet := make(map[string]bool, len(healthy))
	for _, id := range healthy {
		healthySet[id] = true
	}

	b.ringMu.Lock()
	ring := b.ring
	b.ringMu.Unlock()

	for i := 0; i < len(ring); i++ {
		idx := searchRing(ring, ringHash) + i
		candidate := ring[idx%len(ring)]
		if healthySet[candidate.nodeID] {
			return candidate.nodeID
		}
	}
	// Ring stale relative to current health set (e.g. all vnodes for
	// healthy nodes momentarily missing); fall back to round robin.
	return b.selectRoundRobin(healthy)
}

func searchRing(ring []vnode, hash uint64) int {
	return sort.Search(len(ring), func(i int) bool { return ring[i].hash >= hash })
}

func (b *Balancer) rebuildRing() {
	b.mu.RLock()
	ids := append([]string(nil), b.order...)
	b.mu.RUnlock()

	ring := make([]vnode, 0, len(ids)*vnodesPerNode)
	for _, id := range ids {
		for v := 0; v < vnodesPerNode; v++ {
			h := xxhash.Sum64String(id + "#" + itoa(v))
			ring = append(ring, vnode{hash: h, nodeID: id})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	b.ringMu.Lock()
	b.ring = ring
	b.ringMu.Unlock()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Acquire increments a node's connection count, refusing once it would
// exceed max_connections.
func (b *Balancer) Acquire(id string) error {
	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return cacheerr.New(cacheerr.NotFound, "node not found: "+id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.node.CurrentConnections+1 > st.node.MaxConnections {
		return cacheerr.New(cacheerr.Unavailable, "node connection limit reached: "+id)
	}
	st.node.CurrentConnections++
	return nil
}

// Release decrements a node's connection count, floored at 0.
func (b *Balancer) Release(id string) error {
	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return cacheerr.New(cacheerr.NotFound, "node not found: "+id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.node.CurrentConnections > 0 {
		st.node.CurrentConnections--
	}
	return nil
}

// RecordRequest appends elapsed into the node's bounded latency
// reservoir and increments its request counter.
func (b *Balancer) RecordRequest(id string, elapsed time.Duration, success bool) error {
	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return cacheerr.New(cacheerr.NotFound, "node not found: "+id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.requests++
	st.reservoir.add(float64(elapsed.Microseconds()) / 1000)
	_ = success // the success/failure split is not recorded per node
	return nil
}

// NodeLatencyPercentiles returns p50/p95/p99 response time in
// milliseconds for one node.
func (b *Balancer) NodeLatencyPercentiles(id string) (p50, p95, p99 float64, err error) {
	b.mu.RLock()
	st, ok := b.nodes[id]
	b.mu.RUnlock()
	if !ok {
		return 0, 0, 0, cacheerr.New(cacheerr.NotFound, "node not found: "+id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	p50, p95, p99 = st.reservoir.percentiles()
	return p50, p95, p99, nil
}
