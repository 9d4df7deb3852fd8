// Package healing is C7's healing agent: a 30s loop that detects a fixed
// set of problem types from health/cache state and executes a static
// resolution strategy per type, halting a plan on its first failed
// action.
package healing

import (
	"context"
	"time"

	"github.com/tenantcache/platform/internal/agents"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/redlock"
)

// scaleLockKey and scaleLockExpiry mirror internal/scaler's unexported
// constants of the same name: adjust_quota and switch_node are not
// routed through the Scaler, so they acquire the identical key
// themselves rather than racing a scheduled or manual scaling execution
// that holds it.
const (
	scaleLockKey    = "tenantcache:scaling:execute"
	scaleLockExpiry = 20 * time.Second
)

// IssueType names a detectable problem category; the set is closed.
type IssueType string

const (
	IssueHighCPU         IssueType = "high_cpu"
	IssueHighMemory      IssueType = "high_memory"
	IssueRedisConnection IssueType = "redis_connection"
	IssueSlowResponse    IssueType = "slow_response"
	IssueLowHitRatio     IssueType = "low_hit_ratio"
	IssueNodeFailure     IssueType = "node_failure"
	IssueNetworkIssue    IssueType = "network_issue"
	IssueQuotaExceeded   IssueType = "quota_exceeded"
)

// Action names one resolution step; the set is closed.
type Action string

const (
	ActionRestartService Action = "restart_service"
	ActionScaleUp        Action = "scale_up"
	ActionScaleDown      Action = "scale_down"
	ActionClearCache     Action = "clear_cache"
	ActionAdjustQuota    Action = "adjust_quota"
	ActionSwitchNode     Action = "switch_node"
	ActionOptimizeConfig Action = "optimize_config"
	ActionSendAlert      Action = "send_alert"
)

// strategy is one issue type's static resolution profile.
type strategy struct {
	priority        int
	autoResolvable  bool
	maxAttempts     int
	successEstimate float64
	actions         []Action
	reasoning       string
}

// strategies is the static table every issue type resolves against.
var strategies = map[IssueType]strategy{
	IssueHighCPU: {
		priority: 2, autoResolvable: true, maxAttempts: 3, successEstimate: 0.8,
		actions:   []Action{ActionScaleUp, ActionOptimizeConfig},
		reasoning: "high cpu usage detected, scaling out and tuning configuration",
	},
	IssueHighMemory: {
		priority: 2, autoResolvable: true, maxAttempts: 3, successEstimate: 0.75,
		actions:   []Action{ActionClearCache, ActionScaleUp},
		reasoning: "high memory usage detected, clearing cache and scaling out",
	},
	IssueRedisConnection: {
		priority: 1, autoResolvable: true, maxAttempts: 5, successEstimate: 0.7,
		actions:   []Action{ActionRestartService, ActionSwitchNode},
		reasoning: "redis connectivity failing, restarting service and switching node",
	},
	IssueSlowResponse: {
		priority: 3, autoResolvable: true, maxAttempts: 3, successEstimate: 0.7,
		actions:   []Action{ActionOptimizeConfig, ActionScaleUp},
		reasoning: "response times degraded, tuning configuration and scaling out",
	},
	IssueLowHitRatio: {
		priority: 4, autoResolvable: true, maxAttempts: 2, successEstimate: 0.6,
		actions:   []Action{ActionOptimizeConfig},
		reasoning: "hit ratio degraded, tuning cache configuration",
	},
	IssueNodeFailure: {
		priority: 1, autoResolvable: true, maxAttempts: 3, successEstimate: 0.85,
		actions:   []Action{ActionSwitchNode, ActionScaleUp},
		reasoning: "node failure detected, routing away and replacing capacity",
	},
	IssueNetworkIssue: {
		priority: 2, autoResolvable: false, maxAttempts: 1, successEstimate: 0.4,
		actions:   []Action{ActionSendAlert},
		reasoning: "network issue detected, not safely auto-resolvable",
	},
	IssueQuotaExceeded: {
		priority: 3, autoResolvable: true, maxAttempts: 2, successEstimate: 0.75,
		actions:   []Action{ActionAdjustQuota},
		reasoning: "tenant quota exceeded, increasing allotment",
	},
}

const successProbabilityFloor = 0.7

// Problem is one detected issue awaiting resolution.
type Problem struct {
	Issue     IssueType
	TenantID  string
	NodeID    string
	Detail    string
	DetectedAt time.Time
}

// Plan is the resolution strategy chosen for one Problem.
type Plan struct {
	Problem   Problem
	Actions   []Action
	Reasoning string
}

// HealthSource is the subset of internal/health.Monitor the healing
// agent consults to detect problems.
type HealthSource interface {
	ComponentHealth() []tenant.HealthCheck
	Alerts(severity *tenant.AlertSeverity, acknowledged *bool, limit int) []tenant.Alert
}

// CacheManager is the subset of internal/cache.Manager the healing
// agent consults and mutates.
type CacheManager interface {
	ListTenants() []tenant.Tenant
	GetTenantMetrics(id string) (tenant.Metrics, error)
	ModifyTenantQuotas(ctx context.Context, id string, memoryLimitMB, requestsPerSecond *int) (tenant.Tenant, error)
	FlushTenant(ctx context.Context, id string) error
}

// Scaler is the subset of internal/scaler.Scaler the healing agent
// drives for scale_up/scale_down actions; ForceScale already serializes
// execution through the same distributed lock the auto-scaler's manual
// path uses.
type Scaler interface {
	ForceScale(ctx context.Context, targetNodes int) error
	CurrentNodes() int
}

// LoadBalancer is the subset of internal/loadbalancer.Balancer the
// healing agent drives for switch_node actions.
type LoadBalancer interface {
	SetNodeStatus(id string, status tenant.NodeStatus, pingLatencyMS float64) error
}

// Agent is C7's healing control loop.
type Agent struct {
	health HealthSource
	cache  CacheManager
	scaler Scaler
	lb     LoadBalancer
	clock  clock.Clock
	stats  agents.StatsTracker

	locker   redlock.Locker
	attempts map[IssueType]int
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// WithLocker supplies the distributed lock guarding adjust_quota and
// switch_node, the two mutating actions not already routed through the
// Scaler's own locked Execute path.
func WithLocker(l redlock.Locker) Option {
	return func(a *Agent) { a.locker = l }
}

// New builds a healing Agent over already-constructed owners.
func New(health HealthSource, cache CacheManager, scaler Scaler, lb LoadBalancer, opts ...Option) *Agent {
	a := &Agent{
		health:   health,
		cache:    cache,
		scaler:   scaler,
		lb:       lb,
		clock:    clock.System(),
		attempts: make(map[IssueType]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunCycle executes one iteration of the 30s healing loop: detect,
// plan, execute, recording the shared stats block per resolution
// attempt.
func (a *Agent) RunCycle(ctx context.Context) error {
	now := a.clock.Now()
	problems := a.detect()
	if len(problems) == 0 {
		a.stats.Touch(now)
		return nil
	}

	for _, p := range problems {
		strat, ok := strategies[p.Issue]
		if !ok || !strat.autoResolvable {
			continue
		}
		if a.attempts[p.Issue] >= strat.maxAttempts {
			continue
		}
		if strat.successEstimate < successProbabilityFloor {
			continue
		}

		plan := Plan{Problem: p, Actions: strat.actions, Reasoning: strat.reasoning}
		a.attempts[p.Issue]++

		if err := a.execute(ctx, plan); err != nil {
			a.stats.RecordDecision(now, false)
			a.stats.RecordError(now, err)
			continue
		}
		a.stats.RecordDecision(now, true)
		delete(a.attempts, p.Issue)
	}
	return nil
}

// detect scans component health, alerts and tenant metrics for the
// fixed set of recognized problem types.
func (a *Agent) detect() []Problem {
	now := a.clock.Now()
	var problems []Problem

	for _, hc := range a.health.ComponentHealth() {
		if hc.Status != tenant.HealthUnhealthy && hc.Status != tenant.HealthWarning {
			continue
		}
		switch hc.Component {
		case "cpu":
			problems = append(problems, Problem{Issue: IssueHighCPU, Detail: hc.Details, DetectedAt: now})
		case "memory":
			problems = append(problems, Problem{Issue: IssueHighMemory, Detail: hc.Details, DetectedAt: now})
		case "redis":
			problems = append(problems, Problem{Issue: IssueRedisConnection, Detail: hc.Details, DetectedAt: now})
		case "response_time":
			problems = append(problems, Problem{Issue: IssueSlowResponse, Detail: hc.Details, DetectedAt: now})
		}
	}

	unacked := false
	critAlerts := a.health.Alerts(nil, &unacked, 50)
	for _, al := range critAlerts {
		switch al.Category {
		case "node_failure":
			problems = append(problems, Problem{Issue: IssueNodeFailure, NodeID: al.NodeID, Detail: al.Message, DetectedAt: now})
		case "network":
			problems = append(problems, Problem{Issue: IssueNetworkIssue, Detail: al.Message, DetectedAt: now})
		}
	}

	for _, t := range a.cache.ListTenants() {
		metrics, err := a.cache.GetTenantMetrics(t.ID)
		if err != nil {
			continue
		}
		if metrics.HitRatio() < 50 {
			problems = append(problems, Problem{Issue: IssueLowHitRatio, TenantID: t.ID, DetectedAt: now})
		}
		if t.Quotas.MemoryLimitMB > 0 && t.Usage.CurrentMemoryMB > float64(t.Quotas.MemoryLimitMB) {
			problems = append(problems, Problem{Issue: IssueQuotaExceeded, TenantID: t.ID, DetectedAt: now})
		}
	}
	return problems
}

// execute runs a plan's actions sequentially, halting on the first
// failure.
func (a *Agent) execute(ctx context.Context, plan Plan) error {
	for _, act := range plan.Actions {
		if err := a.executeAction(ctx, plan.Problem, act); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) executeAction(ctx context.Context, p Problem, act Action) error {
	switch act {
	case ActionScaleUp:
		return a.scaler.ForceScale(ctx, a.scaler.CurrentNodes()+1)
	case ActionScaleDown:
		target := a.scaler.CurrentNodes() - 1
		if target < 1 {
			return nil
		}
		return a.scaler.ForceScale(ctx, target)
	case ActionClearCache:
		if p.TenantID == "" {
			return nil
		}
		return a.cache.FlushTenant(ctx, p.TenantID)
	case ActionAdjustQuota:
		if p.TenantID == "" {
			return cacheerr.New(cacheerr.InvalidArgument, "adjust_quota requires a tenant id")
		}
		return a.withScaleLock(ctx, func() error {
			t, err := a.findTenant(p.TenantID)
			if err != nil {
				return err
			}
			if t.Quotas.MemoryLimitMB <= 0 {
				return nil
			}
			newLimit := int(float64(t.Quotas.MemoryLimitMB) * 1.25)
			_, err = a.cache.ModifyTenantQuotas(ctx, p.TenantID, &newLimit, nil)
			return err
		})
	case ActionSwitchNode:
		if p.NodeID == "" || a.lb == nil {
			return nil
		}
		return a.withScaleLock(ctx, func() error {
			return a.lb.SetNodeStatus(p.NodeID, tenant.NodeMaintenance, 0)
		})
	case ActionRestartService, ActionOptimizeConfig, ActionSendAlert:
		// No owning component currently exposes a side effect for these;
		// treated as a no-op completion of the plan step.
		return nil
	default:
		return cacheerr.New(cacheerr.InvalidArgument, "unknown resolution action: "+string(act))
	}
}

// withScaleLock runs fn while holding the shared scaling-execution
// Redlock when a locker is configured, so a healing mutation never
// races a scheduled or manual scaling execution. Without a locker the
// action runs unguarded, which is safe in a single-process deployment.
func (a *Agent) withScaleLock(ctx context.Context, fn func() error) error {
	if a.locker == nil {
		return fn()
	}
	handle, err := a.locker.TryLock(ctx, scaleLockKey, scaleLockExpiry)
	if err != nil {
		return cacheerr.Wrap(cacheerr.Conflict, "scaling execution lock busy", err)
	}
	defer func() { _ = handle.Unlock(ctx) }()
	return fn()
}

func (a *Agent) findTenant(id string) (tenant.Tenant, error) {
	for _, t := range a.cache.ListTenants() {
		if t.ID == id {
			return t, nil
		}
	}
	return tenant.Tenant{}, cacheerr.New(cacheerr.NotFound, "tenant not found: "+id)
}

// Stats returns the agent's current decision/error tally.
func (a *Agent) Stats() agents.Stats {
	return a.stats.Snapshot()
}
