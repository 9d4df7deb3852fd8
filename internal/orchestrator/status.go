package orchestrator

import (
	"time"

	"github.com/tenantcache/platform/internal/agents"
	"github.com/tenantcache/platform/internal/tenant"
)

// buildSystemStatus assembles one SystemStatus snapshot, the scheduled
// 10s system-status task's payload and get_cluster_status/health_check
// commands' response basis.
func (o *Orchestrator) buildSystemStatus() tenant.SystemStatus {
	now := o.clock.Now()

	tenants := o.cache.ListTenants()
	active := 0
	for _, t := range tenants {
		if t.Status == tenant.StatusActive {
			active++
		}
	}

	totalNodes, onlineNodes := o.sampler.aggregateNodeHealth()

	alerts := o.hm.Alerts(nil, nil, 0)
	activeAlerts, criticalAlerts := 0, 0
	for _, a := range alerts {
		if a.Resolved {
			continue
		}
		activeAlerts++
		if a.Severity == tenant.SeverityCritical {
			criticalAlerts++
		}
	}

	cpuPct, memPct := o.sampler.current()

	var uptime time.Duration
	if !o.startedAt.IsZero() {
		uptime = now.Sub(o.startedAt)
	}

	return tenant.SystemStatus{
		PlatformVersion:   PlatformVersion,
		Uptime:            uptime,
		Environment:       string(o.cfg.Environment),
		ComponentHealth:   o.hm.ComponentHealth(),
		AgentHealth:       o.agentHealth(now),
		TotalTenants:      len(tenants),
		ActiveTenants:     active,
		TotalNodes:        totalNodes,
		OnlineNodes:       onlineNodes,
		AggregateCPU:      cpuPct,
		AggregateMemory:   memPct,
		TotalRequestRate:  o.sampler.aggregateRequestRate(),
		AvgResponseTimeMS: o.avgResponseTimeMS(),
		ActiveAlerts:      activeAlerts,
		CriticalAlerts:    criticalAlerts,
		GeneratedAt:       now,
	}
}

// avgResponseTimeMS averages each online node's p50 response-time
// reading into the status snapshot's aggregate.
func (o *Orchestrator) avgResponseTimeMS() float64 {
	nodes := o.lb.Nodes()
	var sum float64
	var count float64
	for _, n := range nodes {
		if n.Status != tenant.NodeOnline {
			continue
		}
		p50, _, _, err := o.lb.NodeLatencyPercentiles(n.ID)
		if err != nil {
			continue
		}
		sum += p50
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// agentHealth converts each agent's decision/error tally into a
// HealthCheck row, matching the Health Monitor's own ComponentHealth
// shape.
func (o *Orchestrator) agentHealth(now time.Time) []tenant.HealthCheck {
	rows := []struct {
		name  string
		stats agents.Stats
	}{
		{"scaling_agent", o.scalingAgent.Stats()},
		{"optimization_agent", o.optAgent.Stats()},
		{"healing_agent", o.healAgent.Stats()},
		{"prediction_agent", o.predAgent.Stats()},
	}

	out := make([]tenant.HealthCheck, 0, len(rows))
	for _, r := range rows {
		status := tenant.HealthHealthy
		details := "no activity recorded yet"
		if !r.stats.LastActivity.IsZero() {
			details = "last activity " + r.stats.LastActivity.Format("2006-01-02T15:04:05Z07:00")
		}
		if r.stats.LastError != "" {
			status = tenant.HealthWarning
			details = r.stats.LastError
		}
		out = append(out, tenant.HealthCheck{
			Component: r.name,
			Status:    status,
			LastCheck: now,
			Details:   details,
		})
	}
	return out
}

// SystemStatus returns the most recently computed snapshot, falling
// back to an on-demand build if the scheduled refresh hasn't run yet
// (e.g. immediately after Start, or before Start on a cold handle).
func (o *Orchestrator) SystemStatus() tenant.SystemStatus {
	o.mu.RLock()
	stat := o.lastStat
	o.mu.RUnlock()
	if stat.GeneratedAt.IsZero() {
		return o.buildSystemStatus()
	}
	return stat
}
