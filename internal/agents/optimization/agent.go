// Package optimization is C7's optimization agent: a 300s loop analyzing
// per-tenant hit ratio and access-pattern fingerprints, producing
// recommendations applied through the Cache Manager's admin path. The
// pattern analysis runs over the real audit trail
// (internal/cache.Manager.AuditSnapshot), not sampled traffic.
package optimization

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/tenantcache/platform/internal/agents"
	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/lrucache"
)

const (
	improvementThreshold = 0.05
	topKeysCap           = 1000
)

// CacheManager is the subset of internal/cache.Manager the optimization
// agent consumes; every side effect traverses this interface rather than
// touching Redis or tenant state directly.
type CacheManager interface {
	ListTenants() []tenant.Tenant
	GetTenantMetrics(id string) (tenant.Metrics, error)
	AuditSnapshot() []tenant.OperationRecord
	ModifyTenantQuotas(ctx context.Context, id string, memoryLimitMB, requestsPerSecond *int) (tenant.Tenant, error)
	UpdateTenantSettings(ctx context.Context, id string, settings map[string]any) (tenant.Tenant, error)
}

// Recommendation is one proposed parameter change, drawn from the fixed
// set {default_ttl, memory_limit_mb, eviction_policy}.
type Recommendation struct {
	TenantID             string
	Parameter            string
	CurrentValue         any
	RecommendedValue     any
	ExpectedImprovement  float64
	Confidence           float64
	Reasoning            string
}

// Fingerprint is one tenant's access-pattern analysis for one cycle.
type Fingerprint struct {
	TopKeys            map[string]int64
	KeyPrefixHistogram map[string]int64
	TTLHistogram       map[string]int64
	SizeHistogram      map[string]int64
	HourOfDayHistogram map[int]int64
}

// Agent is C7's optimization control loop.
type Agent struct {
	cm    CacheManager
	clock clock.Clock
	stats agents.StatsTracker

	topKeys map[string]*lrucache.Cache[string, int64]
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// New builds an optimization Agent over an already-constructed Cache Manager.
func New(cm CacheManager, opts ...Option) *Agent {
	a := &Agent{
		cm:      cm,
		clock:   clock.System(),
		topKeys: make(map[string]*lrucache.Cache[string, int64]),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) topKeysFor(tenantID string) *lrucache.Cache[string, int64] {
	if c, ok := a.topKeys[tenantID]; ok {
		return c
	}
	c := lrucache.New[string, int64](topKeysCap, 0)
	a.topKeys[tenantID] = c
	return c
}

// RunCycle executes one iteration of the 300s optimization loop.
func (a *Agent) RunCycle(ctx context.Context) error {
	now := a.clock.Now()
	audit := a.cm.AuditSnapshot()
	byTenant := make(map[string][]tenant.OperationRecord, len(audit))
	for _, rec := range audit {
		byTenant[rec.Tenant] = append(byTenant[rec.Tenant], rec)
	}

	applied := 0
	for _, t := range a.cm.ListTenants() {
		metrics, err := a.cm.GetTenantMetrics(t.ID)
		if err != nil {
			continue
		}
		fp := a.buildFingerprint(t.ID, byTenant[t.ID])

		for _, rec := range a.generateRecommendations(t, metrics, fp) {
			if rec.ExpectedImprovement < improvementThreshold {
				continue
			}
			if err := a.apply(ctx, rec); err != nil {
				a.stats.RecordDecision(now, false)
				continue
			}
			applied++
			a.stats.RecordDecision(now, true)
		}
	}
	if applied == 0 {
		a.stats.Touch(now)
	}
	return nil
}

func (a *Agent) buildFingerprint(tenantID string, records []tenant.OperationRecord) Fingerprint {
	top := a.topKeysFor(tenantID)

	fp := Fingerprint{
		KeyPrefixHistogram: map[string]int64{},
		TTLHistogram:       map[string]int64{},
		SizeHistogram:      map[string]int64{},
		HourOfDayHistogram: map[int]int64{},
	}

	for _, rec := range records {
		if rec.Key != "" {
			count, _ := top.Get(rec.Key)
			top.Set(rec.Key, count+1)
		}

		prefix := "plain:*"
		if idx := strings.Index(rec.Key, ":"); idx >= 0 {
			prefix = rec.Key[:idx] + ":*"
		}
		fp.KeyPrefixHistogram[prefix]++

		if rec.Operation == tenant.OpSet {
			fp.TTLHistogram[ttlBucket(rec.TTL)]++
			fp.SizeHistogram[sizeBucket(rec.SizeBytes)]++
		}

		fp.HourOfDayHistogram[rec.Timestamp.Hour()]++
	}

	fp.TopKeys = topN(top, 10)
	return fp
}

func topN(c *lrucache.Cache[string, int64], n int) map[string]int64 {
	type kv struct {
		key   string
		count int64
	}
	keys := c.Keys()
	all := make([]kv, 0, len(keys))
	for _, k := range keys {
		v, ok := c.Peek(k)
		if !ok {
			continue
		}
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].count > all[j].count })
	if len(all) > n {
		all = all[:n]
	}
	out := make(map[string]int64, len(all))
	for _, e := range all {
		out[e.key] = e.count
	}
	return out
}

func ttlBucket(ttl time.Duration) string {
	minutes := int(ttl / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	return itoaBucket(minutes) + "m-" + itoaBucket(minutes+1) + "m"
}

func sizeBucket(sizeBytes int64) string {
	switch {
	case sizeBytes < 1000:
		return "small"
	case sizeBytes < 10000:
		return "medium"
	default:
		return "large"
	}
}

func itoaBucket(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// generateRecommendations applies the three fixed-set rules: TTL, memory,
// eviction policy.
func (a *Agent) generateRecommendations(t tenant.Tenant, metrics tenant.Metrics, fp Fingerprint) []Recommendation {
	var recs []Recommendation

	if rec, ok := a.optimizeTTL(t, metrics, fp); ok {
		recs = append(recs, rec)
	}
	if rec, ok := a.optimizeMemory(t, metrics); ok {
		recs = append(recs, rec)
	}
	if rec, ok := a.optimizeEviction(t, fp); ok {
		recs = append(recs, rec)
	}
	return recs
}

func (a *Agent) optimizeTTL(t tenant.Tenant, metrics tenant.Metrics, fp Fingerprint) (Recommendation, bool) {
	if len(fp.TTLHistogram) == 0 {
		return Recommendation{}, false
	}
	hitRatio := metrics.HitRatio() / 100

	var recommendedTTL time.Duration
	var reasoning string
	switch {
	case hitRatio < 0.7:
		recommendedTTL = time.Hour
		reasoning = "low hit ratio, increasing default TTL for better cache efficiency"
	case hitRatio > 0.95:
		recommendedTTL = 30 * time.Minute
		reasoning = "very high hit ratio, reducing default TTL to optimize memory usage"
	default:
		return Recommendation{}, false
	}

	return Recommendation{
		TenantID:            t.ID,
		Parameter:           "default_ttl",
		CurrentValue:        t.Settings["default_ttl"],
		RecommendedValue:    recommendedTTL,
		ExpectedImprovement: 0.05,
		Confidence:          0.7,
		Reasoning:           reasoning,
	}, true
}

func (a *Agent) optimizeMemory(t tenant.Tenant, metrics tenant.Metrics) (Recommendation, bool) {
	if t.Quotas.MemoryLimitMB <= 0 {
		return Recommendation{}, false
	}
	usageRatio := metrics.MemoryUsedMB / float64(t.Quotas.MemoryLimitMB)
	if usageRatio <= 0.9 {
		return Recommendation{}, false
	}

	recommended := int(float64(t.Quotas.MemoryLimitMB) * 1.5)
	return Recommendation{
		TenantID:            t.ID,
		Parameter:           "memory_limit_mb",
		CurrentValue:        t.Quotas.MemoryLimitMB,
		RecommendedValue:    recommended,
		ExpectedImprovement: 0.1,
		Confidence:          0.8,
		Reasoning:           "high memory usage, increasing quota to prevent evictions",
	}, true
}

func (a *Agent) optimizeEviction(t tenant.Tenant, fp Fingerprint) (Recommendation, bool) {
	if len(fp.TopKeys) < 2 {
		return Recommendation{}, false
	}
	var max, sum int64
	for _, count := range fp.TopKeys {
		sum += count
		if count > max {
			max = count
		}
	}
	if sum == 0 {
		return Recommendation{}, false
	}
	hotRatio := float64(max) / float64(sum)

	var recommended, reasoning string
	if hotRatio > 0.5 {
		recommended = "allkeys-lru"
		reasoning = "clear hot/cold access pattern detected, using LRU eviction"
	} else {
		recommended = "allkeys-random"
		reasoning = "uniform access pattern, using random eviction"
	}

	current, _ := t.Settings["eviction_policy"].(string)
	if current == "" {
		current = "allkeys-lru"
	}
	if current == recommended {
		return Recommendation{}, false
	}

	return Recommendation{
		TenantID:            t.ID,
		Parameter:           "eviction_policy",
		CurrentValue:        current,
		RecommendedValue:    recommended,
		ExpectedImprovement: 0.03,
		Confidence:          0.6,
		Reasoning:           reasoning,
	}, true
}

func (a *Agent) apply(ctx context.Context, rec Recommendation) error {
	switch rec.Parameter {
	case "default_ttl":
		ttl, _ := rec.RecommendedValue.(time.Duration)
		_, err := a.cm.UpdateTenantSettings(ctx, rec.TenantID, map[string]any{"default_ttl": ttl})
		return err
	case "memory_limit_mb":
		mb, _ := rec.RecommendedValue.(int)
		_, err := a.cm.ModifyTenantQuotas(ctx, rec.TenantID, &mb, nil)
		return err
	case "eviction_policy":
		policy, _ := rec.RecommendedValue.(string)
		_, err := a.cm.UpdateTenantSettings(ctx, rec.TenantID, map[string]any{"eviction_policy": policy})
		return err
	default:
		return cacheerr.New(cacheerr.InvalidArgument, "unknown optimization parameter: "+rec.Parameter)
	}
}

// Stats returns the agent's current decision/error tally.
func (a *Agent) Stats() agents.Stats {
	return a.stats.Snapshot()
}
