package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tenantcache/platform/internal/agents/prediction"
	"github.com/tenantcache/platform/internal/agents/scaling"
	"github.com/tenantcache/platform/internal/cache"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/health"
	"github.com/tenantcache/platform/internal/loadbalancer"
	"github.com/tenantcache/platform/internal/scaler"
	"github.com/tenantcache/platform/internal/tenant"
)

// sampler is the orchestrator's own system-resource gauge, the
// performance-collector task's data source. It samples raw
// CPU/memory numbers directly with gopsutil rather than reading them
// back out of the Health Monitor, which exposes only derived
// HealthHealthy/HealthUnhealthy state and formatted Details strings, not
// the numeric readings a regressor needs.
//
// sampler implements both scaling.MetricsProvider and
// prediction.SystemMetricsProvider, so the orchestrator wires one
// instance into both agents.
type sampler struct {
	cache *cache.Manager
	lb    *loadbalancer.Balancer
	hm    *health.Monitor
	sc    *scaler.Scaler
	clock clock.Clock

	mu      sync.RWMutex
	cpuPct  float64
	memPct  float64
	sampled time.Time
}

func newSampler(cm *cache.Manager, lb *loadbalancer.Balancer, hm *health.Monitor, sc *scaler.Scaler, c clock.Clock) *sampler {
	return &sampler{cache: cm, lb: lb, hm: hm, sc: sc, clock: c}
}

// refresh re-samples system CPU/memory, matching the scheduled
// performance-collector cadence (config.Monitoring.MetricsInterval).
func (s *sampler) refresh(ctx context.Context) error {
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

	s.mu.Lock()
	s.cpuPct = cpuPct
	s.memPct = vmem.UsedPercent
	s.sampled = s.clock.Now()
	s.mu.Unlock()
	return nil
}

func (s *sampler) current() (cpuPct, memPct float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPct, s.memPct
}

// aggregateRequestRate sums every tenant's observed
// requests-per-second into the platform-wide rate.
func (s *sampler) aggregateRequestRate() float64 {
	var total float64
	for _, t := range s.cache.ListTenants() {
		total += float64(t.Usage.CurrentRequestsPerSecond)
	}
	return total
}

// aggregateHitRatio is the unweighted mean hit ratio across tenants
// with any recorded traffic.
func (s *sampler) aggregateHitRatio() float64 {
	var sumRatio, count float64
	for _, t := range s.cache.ListTenants() {
		m, err := s.cache.GetTenantMetrics(t.ID)
		if err != nil {
			continue
		}
		if m.TotalRequests == 0 {
			continue
		}
		sumRatio += m.HitRatio()
		count++
	}
	if count == 0 {
		return 1
	}
	return sumRatio / count
}

func (s *sampler) aggregateActiveConnections() float64 {
	var total float64
	for _, n := range s.lb.Nodes() {
		total += float64(n.CurrentConnections)
	}
	return total
}

// CurrentFeatures implements scaling.MetricsProvider.
func (s *sampler) CurrentFeatures(ctx context.Context) (scaling.Features, error) {
	cpuPct, memPct := s.current()
	now := s.clock.Now()
	return scaling.Features{
		CPUUsagePercent:    cpuPct,
		MemoryUsagePercent: memPct,
		RequestRate:        s.aggregateRequestRate(),
		HitRatio:           s.aggregateHitRatio(),
		ActiveConnections:  s.aggregateActiveConnections(),
		CurrentNodes:       float64(s.sc.CurrentNodes()),
		HourOfDay:          float64(now.Hour()),
		DayOfWeek:          float64(now.Weekday()),
	}, nil
}

// CurrentSystemMetrics implements prediction.SystemMetricsProvider.
func (s *sampler) CurrentSystemMetrics(ctx context.Context) (prediction.SystemMetrics, error) {
	cpuPct, memPct := s.current()
	return prediction.SystemMetrics{CPUUsagePercent: cpuPct, MemoryUsagePercent: memPct}, nil
}

// metricsSnapshot adapts the current sample to scaler.MetricsSnapshot,
// used by the orchestrator's get_metrics command handler.
func (s *sampler) metricsSnapshot() scaler.MetricsSnapshot {
	cpuPct, memPct := s.current()
	return scaler.MetricsSnapshot{
		CPUUsagePercent:    cpuPct,
		MemoryUsagePercent: memPct,
		RequestsPerSecond:  s.aggregateRequestRate(),
	}
}

// aggregateNodeHealth reports how many registered nodes are online.
func (s *sampler) aggregateNodeHealth() (total, online int) {
	nodes := s.lb.Nodes()
	total = len(nodes)
	for _, n := range nodes {
		if n.Status == tenant.NodeOnline {
			online++
		}
	}
	return total, online
}
