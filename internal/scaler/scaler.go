// Package scaler is C6: the cooldown/threshold scaling decision rule and
// execution path. It exclusively owns the scaling-decision log and
// current-node-count scalar.
package scaler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/idgen"
	"github.com/tenantcache/platform/pkg/redlock"
)

const (
	decisionHistoryCap = 100
	scaleLockKey        = "tenantcache:scaling:execute"
	scaleLockExpiry     = 20 * time.Second
)

// MetricsSnapshot is the subset of aggregate metrics the decision rule
// consults.
type MetricsSnapshot struct {
	CPUUsagePercent    float64
	MemoryUsagePercent float64
	RequestsPerSecond  float64
}

// Executor performs the side effects of a scaling decision (provisioning
// or draining nodes). Production wiring is the orchestrator's adapter
// over the Load Balancer and Cache Manager; tests supply a fake.
type Executor interface {
	ScaleUp(ctx context.Context, targetNodes int) error
	ScaleDown(ctx context.Context, targetNodes int) error
}

// Scaler implements C6.
type Scaler struct {
	clock    clock.Clock
	cfg      config.Scaling
	executor Executor
	locker   redlock.Locker
	ids      *idgen.Generator

	mu            sync.Mutex
	currentNodes  int
	lastScaleUp   time.Time
	lastScaleDown time.Time
	decisions     []tenant.ScalingDecision
}

// Option configures a Scaler at construction.
type Option func(*Scaler)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scaler) { s.clock = c }
}

// WithLocker overrides the distributed lock used to single-flight
// scaling executions. Tests that don't exercise distributed locking may
// omit it; Execute then serializes only via the in-process mutex.
func WithLocker(l redlock.Locker) Option {
	return func(s *Scaler) { s.locker = l }
}

// New builds a Scaler seeded at cfg.MinNodes current nodes.
func New(cfg config.Scaling, executor Executor, opts ...Option) (*Scaler, error) {
	ids, err := idgen.New()
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build id generator", err)
	}

	s := &Scaler{
		clock:        clock.System(),
		cfg:          cfg,
		executor:     executor,
		ids:          ids,
		currentNodes: cfg.MinNodes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// requestRateThreshold scales with the current node count: 1000 rps per
// node.
func (s *Scaler) requestRateThreshold() float64 {
	return 1000 * float64(s.currentNodes)
}

// Evaluate applies the deterministic decision rule against a metrics
// snapshot, honoring independent scale-up/scale-down cooldowns. Returns
// nil if no scaling action is warranted.
func (s *Scaler) Evaluate(metrics MetricsSnapshot) (*tenant.ScalingDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	scaleUpInCooldown := now.Sub(s.lastScaleUp) < s.cfg.ScaleUpCooldown
	scaleDownInCooldown := now.Sub(s.lastScaleDown) < s.cfg.ScaleDownCooldown

	rateThreshold := s.requestRateThreshold()
	scaleUpNeeded := !scaleUpInCooldown && (
		metrics.CPUUsagePercent > s.cfg.ScaleUpThreshold ||
			metrics.MemoryUsagePercent > s.cfg.ScaleUpThreshold ||
			metrics.RequestsPerSecond > rateThreshold)
	scaleDownNeeded := !scaleDownInCooldown &&
		metrics.CPUUsagePercent < s.cfg.ScaleDownThreshold &&
		metrics.MemoryUsagePercent < s.cfg.ScaleDownThreshold &&
		metrics.RequestsPerSecond < rateThreshold*0.5 &&
		s.currentNodes > s.cfg.MinNodes

	switch {
	case scaleUpNeeded && s.currentNodes < s.cfg.MaxNodes:
		return s.newDecision(tenant.DecisionScaleUp, "scaling_agent", s.currentNodes+1, metrics,
			fmt.Sprintf("high resource usage - cpu: %.1f%%, memory: %.1f%%", metrics.CPUUsagePercent, metrics.MemoryUsagePercent))
	case scaleDownNeeded:
		return s.newDecision(tenant.DecisionScaleDown, "scaling_agent", s.currentNodes-1, metrics,
			fmt.Sprintf("low resource usage - cpu: %.1f%%, memory: %.1f%%", metrics.CPUUsagePercent, metrics.MemoryUsagePercent))
	default:
		return nil, nil
	}
}

func (s *Scaler) newDecision(kind tenant.DecisionType, agentID string, target int, metrics MetricsSnapshot, reason string) (*tenant.ScalingDecision, error) {
	target = clampInt(target, s.cfg.MinNodes, s.cfg.MaxNodes)
	id, err := s.ids.NextString()
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to mint decision id", err)
	}
	return &tenant.ScalingDecision{
		ID:           id,
		AgentID:      agentID,
		DecisionType: kind,
		CurrentNodes: s.currentNodes,
		TargetNodes:  target,
		Reason:       reason,
		CPUUsage:     metrics.CPUUsagePercent,
		MemoryUsage:  metrics.MemoryUsagePercent,
		RequestRate:  metrics.RequestsPerSecond,
		CreatedAt:    s.clock.Now(),
	}, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Execute runs a decision's side effects, single-flighted against other
// executions via a distributed Redlock guard (when a locker is
// configured) in addition to the in-process mutex, so concurrent
// executions never interleave.
func (s *Scaler) Execute(ctx context.Context, decision tenant.ScalingDecision) error {
	if s.locker != nil {
		handle, err := s.locker.TryLock(ctx, scaleLockKey, scaleLockExpiry)
		if err != nil {
			if errors.Is(err, redlock.ErrNotAcquired) {
				return cacheerr.New(cacheerr.Conflict, "another scaling execution is in flight")
			}
			return cacheerr.Wrap(cacheerr.Unavailable, "scaling lock unavailable", err)
		}
		defer handle.Unlock(ctx) //nolint:errcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch decision.DecisionType {
	case tenant.DecisionScaleUp:
		err = s.executor.ScaleUp(ctx, decision.TargetNodes)
	case tenant.DecisionScaleDown:
		err = s.executor.ScaleDown(ctx, decision.TargetNodes)
	default:
		err = cacheerr.New(cacheerr.InvalidArgument, "unknown decision type")
	}

	decision.Executed = true
	decision.ExecutedAt = s.clock.Now()
	decision.Successful = err == nil

	s.decisions = append(s.decisions, decision)
	if len(s.decisions) > decisionHistoryCap {
		s.decisions = s.decisions[len(s.decisions)-decisionHistoryCap:]
	}

	now := s.clock.Now()
	if decision.DecisionType == tenant.DecisionScaleUp {
		s.lastScaleUp = now
	} else {
		s.lastScaleDown = now
	}
	s.currentNodes = decision.TargetNodes

	return err
}

// ForceScale bypasses Evaluate's decision rule to drive the cluster
// directly to targetNodes, still through Execute's locking/bookkeeping.
func (s *Scaler) ForceScale(ctx context.Context, targetNodes int) error {
	if targetNodes < s.cfg.MinNodes || targetNodes > s.cfg.MaxNodes {
		return cacheerr.New(cacheerr.InvalidArgument, "target nodes outside allowed range")
	}

	s.mu.Lock()
	current := s.currentNodes
	s.mu.Unlock()

	kind := tenant.DecisionScaleUp
	if targetNodes < current {
		kind = tenant.DecisionScaleDown
	}

	id, err := s.ids.NextString()
	if err != nil {
		return cacheerr.Wrap(cacheerr.Internal, "failed to mint decision id", err)
	}
	decision := tenant.ScalingDecision{
		ID:           id,
		AgentID:      "manual",
		DecisionType: kind,
		CurrentNodes: current,
		TargetNodes:  targetNodes,
		Reason:       "manual force scale",
		CreatedAt:    s.clock.Now(),
	}
	return s.Execute(ctx, decision)
}

// CurrentNodes returns the current node count scalar.
func (s *Scaler) CurrentNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNodes
}

// Config returns a copy of the scaler's current configuration, for the
// configure_scaling / get_scaling_status command handlers.
func (s *Scaler) Config() config.Scaling {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ConfigUpdate is a partial update to the scaler's configuration; nil
// fields are left unchanged.
type ConfigUpdate struct {
	MinNodes           *int
	MaxNodes           *int
	ScaleUpThreshold   *float64
	ScaleDownThreshold *float64
	ScaleUpCooldown    *time.Duration
	ScaleDownCooldown  *time.Duration
}

// Reconfigure applies a partial configuration update and returns the
// resulting configuration.
func (s *Scaler) Reconfigure(update ConfigUpdate) config.Scaling {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.MinNodes != nil {
		s.cfg.MinNodes = *update.MinNodes
	}
	if update.MaxNodes != nil {
		s.cfg.MaxNodes = *update.MaxNodes
	}
	if update.ScaleUpThreshold != nil {
		s.cfg.ScaleUpThreshold = *update.ScaleUpThreshold
	}
	if update.ScaleDownThreshold != nil {
		s.cfg.ScaleDownThreshold = *update.ScaleDownThreshold
	}
	if update.ScaleUpCooldown != nil {
		s.cfg.ScaleUpCooldown = *update.ScaleUpCooldown
	}
	if update.ScaleDownCooldown != nil {
		s.cfg.ScaleDownCooldown = *update.ScaleDownCooldown
	}
	if s.currentNodes < s.cfg.MinNodes {
		s.currentNodes = s.cfg.MinNodes
	}
	if s.currentNodes > s.cfg.MaxNodes {
		s.currentNodes = s.cfg.MaxNodes
	}
	return s.cfg
}

// Decisions returns the bounded history of executed scaling decisions,
// newest last.
func (s *Scaler) Decisions() []tenant.ScalingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tenant.ScalingDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}
