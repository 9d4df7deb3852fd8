// Package health is C5: system and Redis liveness sampling, threshold
// alerting with dedup, and the alert lifecycle. It exclusively owns the
// alert log and system-health table.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/redisclient"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/idgen"
	"github.com/tenantcache/platform/pkg/lrucache"
)

// Thresholds holds the warning and critical tier for each sampled
// signal. A Monitor uses DefaultThresholds unless WithThresholds
// overrides them; the monitoring.alert_thresholds configuration section
// is not read into them.
type Thresholds struct {
	CPUWarning          float64
	CPUCritical         float64
	MemoryWarning       float64
	MemoryCritical      float64
	ResponseTimeWarning float64
	ResponseTimeCritical float64
	HitRatioWarning     float64
	HitRatioCritical    float64
	ErrorRateWarning    float64
	ErrorRateCritical   float64
}

// DefaultThresholds returns the monitor's reference defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning:           85,
		CPUCritical:          95,
		MemoryWarning:        85,
		MemoryCritical:       95,
		ResponseTimeWarning:  500,
		ResponseTimeCritical: 1000,
		HitRatioWarning:      0.7,
		HitRatioCritical:     0.5,
		ErrorRateWarning:     5,
		ErrorRateCritical:    10,
	}
}

const (
	dedupWindow      = 60 * time.Second
	infoAutoResolve  = time.Hour
	alertPurgeAge    = 24 * time.Hour
	alertHistoryCap  = 1000
)

// Escalator is the out-of-band notifier hook for critical alerts;
// production wiring supplies a pager/webhook implementation, tests a
// recording stub.
type Escalator interface {
	Escalate(ctx context.Context, alert tenant.Alert)
}

// EscalatorFunc adapts a plain function to Escalator.
type EscalatorFunc func(ctx context.Context, alert tenant.Alert)

// Escalate implements Escalator.
func (f EscalatorFunc) Escalate(ctx context.Context, alert tenant.Alert) { f(ctx, alert) }

// Monitor implements C5.
type Monitor struct {
	redis      redisclient.Client
	clock      clock.Clock
	thresholds Thresholds
	escalator  Escalator
	ids        *idgen.Generator

	mu        sync.RWMutex
	health    map[string]tenant.HealthCheck
	alerts    []tenant.Alert
	recentBySource *lrucache.Cache[string, time.Time]
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithThresholds overrides the alert thresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithEscalator overrides the critical-alert notifier hook.
func WithEscalator(e Escalator) Option {
	return func(m *Monitor) { m.escalator = e }
}

// New builds a Monitor. redis may be nil in tests that only exercise the
// alert lifecycle.
func New(redis redisclient.Client, opts ...Option) (*Monitor, error) {
	ids, err := idgen.New()
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build id generator", err)
	}

	m := &Monitor{
		redis:          redis,
		clock:          clock.System(),
		thresholds:     DefaultThresholds(),
		escalator:      EscalatorFunc(func(context.Context, tenant.Alert) {}),
		ids:            ids,
		health:         make(map[string]tenant.HealthCheck),
		recentBySource: lrucache.New[string, time.Time](4096, dedupWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SampleSystem runs one iteration of the 30s system sampling loop: CPU,
// memory, disk percent via gopsutil, updating the "system" HealthCheck
// and emitting threshold alerts.
func (m *Monitor) SampleSystem(ctx context.Context) error {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return cacheerr.Wrap(cacheerr.BackendUnavailable, "failed to sample cpu", err)
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cacheerr.Wrap(cacheerr.BackendUnavailable, "failed to sample memory", err)
	}

	diskUsage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return cacheerr.Wrap(cacheerr.BackendUnavailable, "failed to sample disk", err)
	}

	now := m.clock.Now()
	healthy := cpuPct < m.thresholds.CPUCritical && vmem.UsedPercent < m.thresholds.MemoryCritical
	status := tenant.HealthHealthy
	if !healthy {
		status = tenant.HealthUnhealthy
	}

	m.mu.Lock()
	m.health["system"] = tenant.HealthCheck{
		Component: "system",
		Status:    status,
		LastCheck: now,
		Details: fmt.Sprintf("cpu=%.1f%% memory=%.1f%% disk=%.1f%%",
			cpuPct, vmem.UsedPercent, diskUsage.UsedPercent),
	}
	m.mu.Unlock()

	m.checkThreshold(ctx, "system_monitor", "performance", "High CPU Usage", cpuPct,
		m.thresholds.CPUWarning, m.thresholds.CPUCritical, "%.1f%% CPU usage")
	m.checkThreshold(ctx, "system_monitor", "performance", "High Memory Usage", vmem.UsedPercent,
		m.thresholds.MemoryWarning, m.thresholds.MemoryCritical, "%.1f%% memory usage")
	if diskUsage.UsedPercent > 90 {
		m.createAlert(ctx, "High Disk Usage", fmt.Sprintf("%.1f%% disk usage", diskUsage.UsedPercent),
			tenant.SeverityWarning, "system_monitor", "storage", "", "")
	}
	return nil
}

// SampleRedis runs one iteration of the 10s Redis sampling loop: a PING
// round trip plus liveness of the Cache Manager's backing client.
func (m *Monitor) SampleRedis(ctx context.Context) error {
	now := m.clock.Now()
	status := tenant.HealthUnhealthy
	var latencyMS float64

	if m.redis != nil {
		rtt, err := m.redis.Ping(ctx)
		if err == nil {
			latencyMS = float64(rtt.Microseconds()) / 1000
			status = tenant.HealthHealthy
		}
	}

	m.mu.Lock()
	m.health["redis"] = tenant.HealthCheck{
		Component:      "redis",
		Status:         status,
		LastCheck:      now,
		ResponseTimeMS: &latencyMS,
	}
	m.mu.Unlock()

	if status != tenant.HealthHealthy {
		m.createAlert(ctx, "Redis Unreachable", "redis ping failed or timed out",
			tenant.SeverityCritical, "redis_monitor", "connectivity", "", "")
	}
	return nil
}

func (m *Monitor) checkThreshold(ctx context.Context, source, category, title string, value, warn, crit float64, format string) {
	if value <= warn {
		return
	}
	severity := tenant.SeverityWarning
	if value >= crit {
		severity = tenant.SeverityCritical
	}
	m.createAlert(ctx, title, fmt.Sprintf(format, value), severity, source, category, "", "")
}

// createAlert applies the 60s same-source dedup window before appending
// a new alert and, for critical severity, firing the escalation hook.
func (m *Monitor) createAlert(ctx context.Context, title, message string, severity tenant.AlertSeverity, source, category, tenantID, nodeID string) {
	dedupKey := source + "|" + title
	if last, ok := m.recentBySource.Get(dedupKey); ok {
		if m.clock.Now().Sub(last) < dedupWindow {
			return
		}
	}
	m.recentBySource.Set(dedupKey, m.clock.Now())

	id, err := m.ids.NextString()
	if err != nil {
		id = fmt.Sprintf("alert_%d", m.clock.Now().UnixNano())
	}

	alert := tenant.Alert{
		ID:        id,
		Title:     title,
		Message:   message,
		Severity:  severity,
		Source:    source,
		Category:  category,
		TenantID:  tenantID,
		NodeID:    nodeID,
		CreatedAt: m.clock.Now(),
		Metadata:  map[string]any{},
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > alertHistoryCap {
		m.alerts = m.alerts[len(m.alerts)-alertHistoryCap:]
	}
	m.mu.Unlock()

	if severity == tenant.SeverityCritical {
		m.escalator.Escalate(ctx, alert)
	}
}

// AcknowledgeAlert sets acknowledged=true, acknowledged_at=now.
func (m *Monitor) AcknowledgeAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Acknowledged = true
			m.alerts[i].AcknowledgedAt = m.clock.Now()
			return nil
		}
	}
	return cacheerr.New(cacheerr.NotFound, "alert not found: "+id)
}

// ResolveAlert sets resolved=true, resolved_at=now.
func (m *Monitor) ResolveAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Resolved = true
			m.alerts[i].ResolvedAt = m.clock.Now()
			return nil
		}
	}
	return cacheerr.New(cacheerr.NotFound, "alert not found: "+id)
}

// Sweep auto-resolves info alerts older than 1h and purges anything
// older than 24h. Intended to be called from the alert-manager loop.
func (m *Monitor) Sweep() {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if now.Sub(a.CreatedAt) > alertPurgeAge {
			continue
		}
		if a.Severity == tenant.SeverityInfo && !a.Resolved && now.Sub(a.CreatedAt) > infoAutoResolve {
			a.Resolved = true
			a.ResolvedAt = now
		}
		kept = append(kept, a)
	}
	m.alerts = kept
}

// Alerts returns a filtered, newest-first view of the alert log.
func (m *Monitor) Alerts(severity *tenant.AlertSeverity, acknowledged *bool, limit int) []tenant.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]tenant.Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if severity != nil && a.Severity != *severity {
			continue
		}
		if acknowledged != nil && a.Acknowledged != *acknowledged {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ComponentHealth returns a consistent snapshot of every tracked
// component's HealthCheck.
func (m *Monitor) ComponentHealth() []tenant.HealthCheck {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]tenant.HealthCheck, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, h)
	}
	return out
}
