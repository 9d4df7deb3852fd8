// Package scaling is C7's scaling agent: a 60s loop reading aggregate
// metrics, invoking the auto-scaler's decision rule, and training an
// incremental regressor that can stand in for raw metrics once its
// recent error drops below a guard band.
package scaling

import (
	"context"
	"sync"

	"github.com/tenantcache/platform/internal/agents"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/scaler"
)

const (
	windowCap    = 500
	learningRate = 0.001
	maeGuardBand = 15.0
)

// Features is one cycle's observed feature vector: CPU, memory, request
// rate, hit ratio, active connections, current nodes, hour-of-day,
// day-of-week.
type Features struct {
	CPUUsagePercent    float64
	MemoryUsagePercent float64
	RequestRate        float64
	HitRatio           float64
	ActiveConnections  float64
	CurrentNodes       float64
	HourOfDay          float64
	DayOfWeek          float64
}

func (f Features) vector() [numFeatures]float64 {
	return [numFeatures]float64{
		f.CPUUsagePercent, f.MemoryUsagePercent, f.RequestRate, f.HitRatio,
		f.ActiveConnections, f.CurrentNodes, f.HourOfDay, f.DayOfWeek,
	}
}

// MetricsProvider supplies the aggregate feature snapshot the agent
// evaluates each cycle. Production wiring adapts the Cache Manager, Load
// Balancer and auto-scaler's own current-node-count; tests supply a fake.
type MetricsProvider interface {
	CurrentFeatures(ctx context.Context) (Features, error)
}

// Agent is C7's scaling control loop.
type Agent struct {
	clock   clock.Clock
	scaler  *scaler.Scaler
	metrics MetricsProvider
	stats   agents.StatsTracker

	mu       sync.Mutex
	reg      *regressor
	lastFeat *Features
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// New builds a scaling Agent over an already-constructed Scaler.
func New(s *scaler.Scaler, metrics MetricsProvider, opts ...Option) *Agent {
	a := &Agent{
		clock:   clock.System(),
		scaler:  s,
		metrics: metrics,
		reg:     newRegressor(windowCap, learningRate),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunCycle executes one iteration of the 60s scaling loop.
func (a *Agent) RunCycle(ctx context.Context) error {
	now := a.clock.Now()
	feat, err := a.metrics.CurrentFeatures(ctx)
	if err != nil {
		a.stats.RecordError(now, err)
		return err
	}

	a.mu.Lock()
	if a.lastFeat != nil {
		// Train against the previous cycle's features using this
		// cycle's CPU reading as the observed subsequent load.
		a.reg.add(a.lastFeat.vector(), feat.CPUUsagePercent)
	}
	predictedLoad := feat.CPUUsagePercent
	if a.reg.ready(maeGuardBand) {
		predictedLoad = a.reg.predict(feat.vector())
	}
	last := feat
	a.lastFeat = &last
	a.mu.Unlock()

	snapshot := scaler.MetricsSnapshot{
		CPUUsagePercent:    predictedLoad,
		MemoryUsagePercent: feat.MemoryUsagePercent,
		RequestsPerSecond:  feat.RequestRate,
	}

	decision, err := a.scaler.Evaluate(snapshot)
	if err != nil {
		a.stats.RecordError(now, err)
		return err
	}
	if decision == nil {
		a.stats.Touch(now)
		return nil
	}

	execErr := a.scaler.Execute(ctx, *decision)
	a.stats.RecordDecision(now, execErr == nil)
	return execErr
}

// Stats returns the agent's current decision/error tally.
func (a *Agent) Stats() agents.Stats {
	return a.stats.Snapshot()
}
