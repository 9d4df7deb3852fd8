// Package cache is C3: the multi-tenant cache manager. It exclusively
// owns the tenant table and per-tenant metric aggregates, namespaces
// every key as cache:{tenant}:{key}, and enforces the three-part
// admission check (existence+active, memory quota, rate limit) ahead of
// every data-plane operation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redisrate "github.com/go-redis/redis_rate/v10"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/redisclient"
	"github.com/tenantcache/platform/internal/tenant"
	"github.com/tenantcache/platform/pkg/keymutex"
	"github.com/tenantcache/platform/pkg/memcache"
)

const (
	systemMetricsKey = "metrics:system"
	reservoirCap     = 1000
	auditRingCap     = 4096
)

// entryEnvelope wraps every stored value. Quota accounting is pinned to
// the byte length of this encoded form, the exact payload handed to
// Redis.
type entryEnvelope struct {
	Value string `json:"v"`
}

func encodeValue(v string) ([]byte, error) {
	return json.Marshal(entryEnvelope{Value: v})
}

func decodeValue(data []byte) (string, error) {
	var e entryEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return "", cacheerr.Wrap(cacheerr.InvalidValue, "malformed cache entry", err)
	}
	return e.Value, nil
}

// tenantState is the in-memory record the Cache Manager exclusively owns
// for one tenant: the Tenant record itself plus its metrics and latency
// reservoir.
type tenantState struct {
	mu        sync.Mutex
	tenant    tenant.Tenant
	metrics   tenant.Metrics
	reservoir *reservoir
}

// CreateTenantSpec is the input to CreateTenant.
type CreateTenantSpec struct {
	ID                string
	Name              string
	MemoryLimitMB     int
	RequestsPerSecond int
	MaxConnections    int
}

// Snapshot is the backup_tenant payload: every key in the tenant's
// key-space with its value and remaining TTL.
type Snapshot struct {
	TenantID string
	Entries  map[string]SnapshotEntry
}

// SnapshotEntry is one key's captured value and remaining TTL.
type SnapshotEntry struct {
	Value        string
	TTLRemaining time.Duration
}

// Manager implements C3.
type Manager struct {
	redis    redisclient.Client
	l1       *memcache.Cache
	clock    clock.Clock
	limiter  *redisrate.Limiter
	locks    *keymutex.KeyMutex
	defaults config.Tenants

	mu      sync.RWMutex
	tenants map[string]*tenantState

	auditMu sync.Mutex
	audit   []tenant.OperationRecord
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithClock overrides the injected clock (tests use a clock.Mock).
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New builds a Cache Manager over an already-constructed Redis client.
func New(redis redisclient.Client, defaults config.Tenants, opts ...Option) (*Manager, error) {
	l1, err := memcache.New()
	if err != nil {
		return nil, cacheerr.Wrap(cacheerr.Internal, "failed to build local cache", err)
	}

	m := &Manager{
		redis:    redis,
		l1:       l1,
		clock:    clock.System(),
		limiter:  redisrate.NewLimiter(redis.Raw()),
		locks:    keymutex.New(),
		defaults: defaults,
		tenants:  make(map[string]*tenantState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func cacheKey(tenantID, key string) string {
	return fmt.Sprintf("cache:%s:%s", tenantID, key)
}

func tenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

func l1Key(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// lookupTenant returns the owned state for a registered tenant, or
// cacheerr.NotFound. It checks existence only; admit checks the status.
func (m *Manager) lookupTenant(id string) (*tenantState, error) {
	m.mu.RLock()
	st, ok := m.tenants[id]
	m.mu.RUnlock()
	if !ok {
		return nil, cacheerr.New(cacheerr.NotFound, "tenant not found: "+id)
	}
	return st, nil
}

// admit runs the three-part admission check ahead of a data-plane op.
func (m *Manager) admit(ctx context.Context, st *tenantState, op tenant.Operation) error {
	st.mu.Lock()
	active := st.tenant.Status == tenant.StatusActive
	overQuota := st.tenant.Usage.CurrentMemoryMB > float64(st.tenant.Quotas.MemoryLimitMB)
	rps := st.tenant.Quotas.RequestsPerSecond
	st.mu.Unlock()

	if !active {
		return cacheerr.New(cacheerr.InvalidArgument, "tenant is not active")
	}
	if overQuota {
		return cacheerr.New(cacheerr.QuotaExceeded, "tenant memory usage exceeds its quota")
	}
	if rps <= 0 {
		rps = 1
	}
	res, err := m.limiter.Allow(ctx, fmt.Sprintf("ratelimit:%s:%s", st.tenant.ID, op), redisrate.PerSecond(rps))
	if err != nil {
		return cacheerr.Wrap(cacheerr.BackendUnavailable, "rate limiter unavailable", err)
	}
	if res.Allowed == 0 {
		return cacheerr.New(cacheerr.RateLimited, "rate limit exceeded")
	}
	return nil
}

// recordMetric applies the metric-update rule for one completed op.
func (m *Manager) recordMetric(st *tenantState, elapsed time.Duration, success bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.metrics.TotalRequests++
	if success {
		st.metrics.SuccessfulRequests++
	} else {
		st.metrics.FailedRequests++
	}
	if elapsed > 0 {
		ms := float64(elapsed.Microseconds()) / 1000
		st.metrics.AvgResponseTimeMS += (ms - st.metrics.AvgResponseTimeMS) / float64(st.metrics.TotalRequests)
		st.reservoir.add(ms)
		p50, p95, p99 := st.reservoir.percentiles()
		st.metrics.P50ResponseTimeMS, st.metrics.P95ResponseTimeMS, st.metrics.P99ResponseTimeMS = p50, p95, p99
	}
}

func (m *Manager) recordAudit(rec tenant.OperationRecord) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, rec)
	if len(m.audit) > auditRingCap {
		m.audit = m.audit[len(m.audit)-auditRingCap:]
	}
}

// AuditSnapshot returns a copy of the recent operation audit trail, used
// by the optimization agent's access-pattern fingerprinting.
func (m *Manager) AuditSnapshot() []tenant.OperationRecord {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	out := make([]tenant.OperationRecord, len(m.audit))
	copy(out, m.audit)
	return out
}

// ---------------------------------------------------------------------
// Data-plane operations
// ---------------------------------------------------------------------

// Get retrieves a value, incrementing hits on presence and misses on
// absence.
func (m *Manager) Get(ctx context.Context, tenantID, key string) (string, error) {
	start := m.clock.Now()
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return "", err
	}
	if err := m.admit(ctx, st, tenant.OpGet); err != nil {
		m.recordMetric(st, 0, false)
		return "", err
	}

	if cached, found := m.l1.Get(l1Key(tenantID, key)); found {
		st.mu.Lock()
		st.metrics.CacheHits++
		st.mu.Unlock()
		value, err := decodeValue(cached)
		m.finishOp(st, tenant.OpGet, tenantID, key, start, err == nil)
		return value, err
	}

	raw, err := m.redis.Get(ctx, cacheKey(tenantID, key))
	success := err == nil
	defer m.finishOp(st, tenant.OpGet, tenantID, key, start, success || cacheerr.CodeOf(err) == cacheerr.NotFound)

	st.mu.Lock()
	if err == nil {
		st.metrics.CacheHits++
	} else if cacheerr.CodeOf(err) == cacheerr.NotFound {
		st.metrics.CacheMisses++
	}
	st.mu.Unlock()

	if err != nil {
		return "", err
	}

	value, err := decodeValue([]byte(raw))
	if err != nil {
		return "", err
	}
	m.l1.Set(l1Key(tenantID, key), []byte(raw), int64(len(raw)), 0)
	return value, nil
}

// Set stores a value, rejecting with QuotaExceeded if it would push the
// tenant's memory usage past its limit.
func (m *Manager) Set(ctx context.Context, tenantID, key, value string, ttl time.Duration) error {
	start := m.clock.Now()
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return err
	}
	if err := m.admit(ctx, st, tenant.OpSet); err != nil {
		m.recordMetric(st, 0, false)
		return err
	}

	encoded, err := encodeValue(value)
	if err != nil {
		m.finishOp(st, tenant.OpSet, tenantID, key, start, false)
		return cacheerr.Wrap(cacheerr.InvalidValue, "failed to encode value", err)
	}
	sizeBytes := int64(len(encoded))
	sizeMB := float64(sizeBytes) / (1024 * 1024)

	st.mu.Lock()
	wouldUse := st.tenant.Usage.CurrentMemoryMB + sizeMB
	limit := float64(st.tenant.Quotas.MemoryLimitMB)
	st.mu.Unlock()
	if wouldUse > limit {
		m.finishSetOp(st, tenantID, key, start, false, sizeBytes, ttl)
		return cacheerr.New(cacheerr.QuotaExceeded, "set would exceed tenant memory quota")
	}

	storageKey := cacheKey(tenantID, key)
	if ttl > 0 {
		err = m.redis.SetEX(ctx, storageKey, string(encoded), ttl)
	} else {
		err = m.redis.Set(ctx, storageKey, string(encoded))
	}
	if err != nil {
		m.finishSetOp(st, tenantID, key, start, false, sizeBytes, ttl)
		return err
	}

	st.mu.Lock()
	st.tenant.Usage.CurrentMemoryMB += sizeMB
	st.mu.Unlock()

	m.l1.Set(l1Key(tenantID, key), []byte(encoded), sizeBytes, ttl)
	m.finishSetOp(st, tenantID, key, start, true, sizeBytes, ttl)
	return nil
}

// Delete removes a key, subtracting its encoded size from memory usage.
func (m *Manager) Delete(ctx context.Context, tenantID, key string) error {
	start := m.clock.Now()
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return err
	}
	if err := m.admit(ctx, st, tenant.OpDelete); err != nil {
		m.recordMetric(st, 0, false)
		return err
	}

	storageKey := cacheKey(tenantID, key)
	prior, getErr := m.redis.Get(ctx, storageKey)

	n, err := m.redis.Del(ctx, storageKey)
	if err != nil {
		m.finishOp(st, tenant.OpDelete, tenantID, key, start, false)
		return err
	}
	m.l1.Del(l1Key(tenantID, key))

	if n > 0 && getErr == nil {
		st.mu.Lock()
		st.tenant.Usage.CurrentMemoryMB -= float64(len(prior)) / (1024 * 1024)
		if st.tenant.Usage.CurrentMemoryMB < 0 {
			st.tenant.Usage.CurrentMemoryMB = 0
		}
		st.mu.Unlock()
	}

	m.finishOp(st, tenant.OpDelete, tenantID, key, start, true)
	return nil
}

// Exists is a pass-through existence check.
func (m *Manager) Exists(ctx context.Context, tenantID, key string) (bool, error) {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return false, err
	}
	if err := m.admit(ctx, st, tenant.OpExists); err != nil {
		return false, err
	}
	return m.redis.Exists(ctx, cacheKey(tenantID, key))
}

// Expire is a pass-through TTL setter.
func (m *Manager) Expire(ctx context.Context, tenantID, key string, ttl time.Duration) (bool, error) {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return false, err
	}
	if err := m.admit(ctx, st, tenant.OpExpire); err != nil {
		return false, err
	}
	return m.redis.Expire(ctx, cacheKey(tenantID, key), ttl)
}

// TTL is a pass-through TTL reader.
func (m *Manager) TTL(ctx context.Context, tenantID, key string) (time.Duration, error) {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return 0, err
	}
	if err := m.admit(ctx, st, tenant.OpTTL); err != nil {
		return 0, err
	}
	return m.redis.TTL(ctx, cacheKey(tenantID, key))
}

// Incr increments a numeric slot by n; no memory accounting applies.
func (m *Manager) Incr(ctx context.Context, tenantID, key string, n int64) (int64, error) {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return 0, err
	}
	if err := m.admit(ctx, st, tenant.OpIncr); err != nil {
		return 0, err
	}
	return m.redis.IncrBy(ctx, cacheKey(tenantID, key), n)
}

// Decr decrements a numeric slot by n; no memory accounting applies.
func (m *Manager) Decr(ctx context.Context, tenantID, key string, n int64) (int64, error) {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return 0, err
	}
	if err := m.admit(ctx, st, tenant.OpDecr); err != nil {
		return 0, err
	}
	return m.redis.DecrBy(ctx, cacheKey(tenantID, key), n)
}

// MGet pipelines reads for multiple keys; each slot counts as a hit or
// miss. The returned slice holds nil at missed indices.
func (m *Manager) MGet(ctx context.Context, tenantID string, keys []string) ([]*string, error) {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return nil, err
	}
	if err := m.admit(ctx, st, tenant.OpMGet); err != nil {
		return nil, err
	}

	storageKeys := make([]string, len(keys))
	for i, k := range keys {
		storageKeys[i] = cacheKey(tenantID, k)
	}
	raw, err := m.redis.MGet(ctx, storageKeys...)
	if err != nil {
		return nil, err
	}

	out := make([]*string, len(raw))
	var hits, misses int64
	for i, v := range raw {
		if v == nil {
			misses++
			continue
		}
		s, ok := v.(string)
		if !ok {
			misses++
			continue
		}
		value, err := decodeValue([]byte(s))
		if err != nil {
			misses++
			continue
		}
		hits++
		out[i] = &value
	}

	st.mu.Lock()
	st.metrics.CacheHits += hits
	st.metrics.CacheMisses += misses
	st.metrics.TotalRequests++
	st.metrics.SuccessfulRequests++
	st.mu.Unlock()

	return out, nil
}

// MSet is all-or-nothing: the quota check runs over the sum of encoded
// sizes before any key is written.
func (m *Manager) MSet(ctx context.Context, tenantID string, entries map[string]string) error {
	st, err := m.lookupTenant(tenantID)
	if err != nil {
		return err
	}
	if err := m.admit(ctx, st, tenant.OpMSet); err != nil {
		return err
	}

	encoded := make(map[string][]byte, len(entries))
	var total float64
	for k, v := range entries {
		e, err := encodeValue(v)
		if err != nil {
			return cacheerr.Wrap(cacheerr.InvalidValue, "failed to encode value", err)
		}
		encoded[k] = e
		total += float64(len(e)) / (1024 * 1024)
	}

	st.mu.Lock()
	wouldUse := st.tenant.Usage.CurrentMemoryMB + total
	limit := float64(st.tenant.Quotas.MemoryLimitMB)
	st.mu.Unlock()
	if wouldUse > limit {
		return cacheerr.New(cacheerr.QuotaExceeded, "mset would exceed tenant memory quota")
	}

	pairs := make(map[string]string, len(encoded))
	for k, v := range encoded {
		pairs[cacheKey(tenantID, k)] = string(v)
	}
	if err := m.redis.MSet(ctx, pairs); err != nil {
		return err
	}

	for k, v := range encoded {
		m.l1.Set(l1Key(tenantID, k), v, int64(len(v)), 0)
	}

	st.mu.Lock()
	st.tenant.Usage.CurrentMemoryMB += total
	st.metrics.TotalRequests++
	st.metrics.SuccessfulRequests++
	st.mu.Unlock()

	return nil
}

func (m *Manager) finishOp(st *tenantState, op tenant.Operation, tenantID, key string, start time.Time, success bool) {
	elapsed := m.clock.Now().Sub(start)
	m.recordMetric(st, elapsed, success)
	m.recordAudit(tenant.OperationRecord{
		Operation: op,
		Tenant:    tenantID,
		Key:       key,
		Elapsed:   elapsed,
		Success:   success,
		Timestamp: m.clock.Now(),
	})
}

// finishSetOp is finishOp specialized for OpSet, additionally recording
// the encoded size and TTL the optimization agent's histograms consume.
func (m *Manager) finishSetOp(st *tenantState, tenantID, key string, start time.Time, success bool, sizeBytes int64, ttl time.Duration) {
	elapsed := m.clock.Now().Sub(start)
	m.recordMetric(st, elapsed, success)
	m.recordAudit(tenant.OperationRecord{
		Operation: tenant.OpSet,
		Tenant:    tenantID,
		Key:       key,
		Elapsed:   elapsed,
		Success:   success,
		Timestamp: m.clock.Now(),
		SizeBytes: sizeBytes,
		TTL:       ttl,
	})
}

// ---------------------------------------------------------------------
// Tenant administration
// ---------------------------------------------------------------------

// CreateTenant registers a new tenant, failing with AlreadyExists on a
// duplicate id.
func (m *Manager) CreateTenant(ctx context.Context, spec CreateTenantSpec) (tenant.Tenant, error) {
	if len(spec.ID) < 3 {
		return tenant.Tenant{}, cacheerr.New(cacheerr.InvalidArgument, "tenant id must be at least 3 characters")
	}
	if len(spec.Name) < 2 {
		return tenant.Tenant{}, cacheerr.New(cacheerr.InvalidArgument, "tenant name must be at least 2 characters")
	}

	m.mu.Lock()
	if _, exists := m.tenants[spec.ID]; exists {
		m.mu.Unlock()
		return tenant.Tenant{}, cacheerr.New(cacheerr.AlreadyExists, "tenant already exists: "+spec.ID)
	}

	now := m.clock.Now()
	memLimit := spec.MemoryLimitMB
	if memLimit == 0 {
		memLimit = m.defaults.DefaultMemoryMB
	}
	rps := spec.RequestsPerSecond
	if rps == 0 {
		rps = m.defaults.DefaultRequestsPerSecond
	}
	conns := spec.MaxConnections
	if conns == 0 {
		conns = m.defaults.DefaultConnections
	}

	t := tenant.Tenant{
		ID:        spec.ID,
		Name:      spec.Name,
		Namespace: spec.ID,
		Status:    tenant.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Quotas: tenant.Quotas{
			MemoryLimitMB:     memLimit,
			RequestsPerSecond: rps,
			MaxConnections:    conns,
		},
		Settings: map[string]any{},
	}
	st := &tenantState{tenant: t, reservoir: newReservoir(reservoirCap)}
	m.tenants[spec.ID] = st
	m.mu.Unlock()

	if err := m.persistTenant(ctx, t); err != nil {
		m.mu.Lock()
		delete(m.tenants, spec.ID)
		m.mu.Unlock()
		return tenant.Tenant{}, err
	}
	return t, nil
}

func (m *Manager) persistTenant(ctx context.Context, t tenant.Tenant) error {
	data, err := json.Marshal(t)
	if err != nil {
		return cacheerr.Wrap(cacheerr.Internal, "failed to encode tenant", err)
	}
	return m.redis.Set(ctx, tenantKey(t.ID), string(data))
}

// DeleteTenant erases every key under cache:{id}:, the tenant record
// itself, and the in-memory state. Serialized against concurrent
// operations on the same tenant via a per-tenant key lock, per the
// ordering requirement that delete_tenant not interleave with in-flight
// ops for the same tenant.
func (m *Manager) DeleteTenant(ctx context.Context, id string) error {
	release, err := m.locks.Lock(ctx, id)
	if err != nil {
		return cacheerr.Wrap(cacheerr.Internal, "failed to acquire tenant lock", err)
	}
	defer release()

	if _, err := m.lookupTenant(id); err != nil {
		return err
	}

	if err := m.wipeKeyspace(ctx, id); err != nil {
		return err
	}
	if _, err := m.redis.Del(ctx, tenantKey(id)); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tenants, id)
	m.mu.Unlock()
	return nil
}

func (m *Manager) wipeKeyspace(ctx context.Context, id string) error {
	pattern := fmt.Sprintf("cache:%s:*", id)
	keys, err := m.redis.Keys(ctx, pattern)
	if err != nil {
		return err
	}
	const chunk = 500
	for i := 0; i < len(keys); i += chunk {
		end := i + chunk
		if end > len(keys) {
			end = len(keys)
		}
		if _, err := m.redis.Del(ctx, keys[i:end]...); err != nil {
			return err
		}
	}
	prefix := fmt.Sprintf("cache:%s:", id)
	for _, k := range keys {
		m.l1.Del(l1Key(id, k[len(prefix):]))
	}
	return nil
}

// FlushTenant wipes every key under the tenant's keyspace without
// removing the tenant record itself, serialized the same way as
// DeleteTenant. Used by the healing agent's clear_cache action.
func (m *Manager) FlushTenant(ctx context.Context, id string) error {
	release, err := m.locks.Lock(ctx, id)
	if err != nil {
		return cacheerr.Wrap(cacheerr.Internal, "failed to acquire tenant lock", err)
	}
	defer release()

	if _, err := m.lookupTenant(id); err != nil {
		return err
	}
	return m.wipeKeyspace(ctx, id)
}

// ListTenants returns a consistent snapshot of every tenant record.
func (m *Manager) ListTenants() []tenant.Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]tenant.Tenant, 0, len(m.tenants))
	for _, st := range m.tenants {
		st.mu.Lock()
		out = append(out, st.tenant)
		st.mu.Unlock()
	}
	return out
}

// GetTenantDetails returns one tenant's current record.
func (m *Manager) GetTenantDetails(id string) (tenant.Tenant, error) {
	st, err := m.lookupTenant(id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tenant, nil
}

// GetTenantMetrics returns one tenant's current metrics.
func (m *Manager) GetTenantMetrics(id string) (tenant.Metrics, error) {
	st, err := m.lookupTenant(id)
	if err != nil {
		return tenant.Metrics{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.metrics, nil
}

// AggregateMetrics sums every tenant's counters into one platform-wide
// metrics record. Response-time fields are request-weighted means.
func (m *Manager) AggregateMetrics() tenant.Metrics {
	m.mu.RLock()
	states := make([]*tenantState, 0, len(m.tenants))
	for _, st := range m.tenants {
		states = append(states, st)
	}
	m.mu.RUnlock()

	var agg tenant.Metrics
	var weightedAvg float64
	for _, st := range states {
		st.mu.Lock()
		mt := st.metrics
		st.mu.Unlock()

		agg.TotalRequests += mt.TotalRequests
		agg.SuccessfulRequests += mt.SuccessfulRequests
		agg.FailedRequests += mt.FailedRequests
		agg.CacheHits += mt.CacheHits
		agg.CacheMisses += mt.CacheMisses
		agg.MemoryUsedMB += mt.MemoryUsedMB
		weightedAvg += mt.AvgResponseTimeMS * float64(mt.TotalRequests)
	}
	if agg.TotalRequests > 0 {
		agg.AvgResponseTimeMS = weightedAvg / float64(agg.TotalRequests)
	}
	return agg
}

// PersistSystemMetrics writes the aggregate metrics snapshot under
// metrics:system with the supplied TTL (callers pass twice the
// collection interval so a stale snapshot expires on its own).
func (m *Manager) PersistSystemMetrics(ctx context.Context, ttl time.Duration) error {
	snap := struct {
		Metrics   tenant.Metrics `json:"metrics"`
		Tenants   int            `json:"tenants"`
		Timestamp time.Time      `json:"timestamp"`
	}{Metrics: m.AggregateMetrics(), Timestamp: m.clock.Now()}

	m.mu.RLock()
	snap.Tenants = len(m.tenants)
	m.mu.RUnlock()

	encoded, err := json.Marshal(snap)
	if err != nil {
		return cacheerr.Wrap(cacheerr.InvalidValue, "failed to encode metrics snapshot", err)
	}
	return m.redis.SetEX(ctx, systemMetricsKey, string(encoded), ttl)
}

// ModifyTenantQuotas applies a partial quota update.
func (m *Manager) ModifyTenantQuotas(ctx context.Context, id string, memoryLimitMB, requestsPerSecond *int) (tenant.Tenant, error) {
	st, err := m.lookupTenant(id)
	if err != nil {
		return tenant.Tenant{}, err
	}

	st.mu.Lock()
	if memoryLimitMB != nil {
		st.tenant.Quotas.MemoryLimitMB = *memoryLimitMB
	}
	if requestsPerSecond != nil {
		st.tenant.Quotas.RequestsPerSecond = *requestsPerSecond
	}
	st.tenant.UpdatedAt = m.clock.Now()
	t := st.tenant
	st.mu.Unlock()

	if err := m.persistTenant(ctx, t); err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

// UpdateTenantSettings merges the given keys into the tenant's free-form
// settings map, used by the optimization agent for recommendations that
// don't map onto a typed quota field (default_ttl, eviction_policy).
func (m *Manager) UpdateTenantSettings(ctx context.Context, id string, settings map[string]any) (tenant.Tenant, error) {
	st, err := m.lookupTenant(id)
	if err != nil {
		return tenant.Tenant{}, err
	}

	st.mu.Lock()
	if st.tenant.Settings == nil {
		st.tenant.Settings = make(map[string]any, len(settings))
	}
	for k, v := range settings {
		st.tenant.Settings[k] = v
	}
	st.tenant.UpdatedAt = m.clock.Now()
	t := st.tenant
	st.mu.Unlock()

	if err := m.persistTenant(ctx, t); err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

// BackupTenant captures every key in the tenant's key-space with its
// value and remaining TTL.
func (m *Manager) BackupTenant(ctx context.Context, id string) (Snapshot, error) {
	if _, err := m.lookupTenant(id); err != nil {
		return Snapshot{}, err
	}

	pattern := fmt.Sprintf("cache:%s:*", id)
	keys, err := m.redis.Keys(ctx, pattern)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{TenantID: id, Entries: make(map[string]SnapshotEntry, len(keys))}
	prefix := fmt.Sprintf("cache:%s:", id)
	for _, k := range keys {
		raw, err := m.redis.Get(ctx, k)
		if err != nil {
			continue
		}
		value, err := decodeValue([]byte(raw))
		if err != nil {
			continue
		}
		ttl, _ := m.redis.TTL(ctx, k)
		userKey := k[len(prefix):]
		snap.Entries[userKey] = SnapshotEntry{Value: value, TTLRemaining: ttl}
	}
	return snap, nil
}

// RestoreTenant wipes the tenant's key-space and re-writes every entry
// from the snapshot.
func (m *Manager) RestoreTenant(ctx context.Context, id string, snap Snapshot) error {
	if _, err := m.lookupTenant(id); err != nil {
		return err
	}
	if err := m.wipeKeyspace(ctx, id); err != nil {
		return err
	}
	for key, entry := range snap.Entries {
		encoded, err := encodeValue(entry.Value)
		if err != nil {
			return cacheerr.Wrap(cacheerr.InvalidValue, "failed to encode snapshot entry", err)
		}
		storageKey := cacheKey(id, key)
		if entry.TTLRemaining > 0 {
			err = m.redis.SetEX(ctx, storageKey, string(encoded), entry.TTLRemaining)
		} else {
			err = m.redis.Set(ctx, storageKey, string(encoded))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
