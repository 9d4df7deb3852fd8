// Package prediction is C7's prediction agent: a 300s loop that
// collects per-series (system plus per-tenant) samples, maintains one
// incremental regressor per (series, metric) pair, emits 24-hour
// forecasts with confidence intervals, derives a scaling outlook from
// the CPU forecast, and flags z-score anomalies. Data collection is
// folded into the same cycle rather than a separate collector task,
// since the orchestrator drives this agent through a single scheduled
// job.
package prediction

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tenantcache/platform/internal/agents"
	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/tenant"
)

const (
	forecastHorizonHours  = 24
	anomalyThreshold      = 2.0
	anomalyHighThreshold  = 3.0
	minHistoryForForecast = 50
	regressorWindowCap    = 500
	regressorLearnRate    = 0.001
)

// SystemMetrics is one sample of system-wide resource usage.
type SystemMetrics struct {
	CPUUsagePercent    float64
	MemoryUsagePercent float64
}

// SystemMetricsProvider supplies the current system-wide sample.
type SystemMetricsProvider interface {
	CurrentSystemMetrics(ctx context.Context) (SystemMetrics, error)
}

// CacheManager is the subset of internal/cache.Manager the prediction
// agent reads tenant metrics from.
type CacheManager interface {
	ListTenants() []tenant.Tenant
	GetTenantMetrics(id string) (tenant.Metrics, error)
}

// Scaler supplies the current node count for the scaling outlook.
type Scaler interface {
	CurrentNodes() int
}

// UsageForecast is a per-metric 24-hour-ahead forecast.
type UsageForecast struct {
	MetricName          string
	TenantID            string // empty for system-level series
	Predictions         []float64
	Timestamps          []time.Time
	ConfidenceIntervals [][2]float64
	AccuracyScore       float64
}

// ScalingOutlook is the prediction agent's advisory scaling signal,
// derived from the system CPU forecast's near-term peak.
type ScalingOutlook struct {
	PredictedLoad    float64
	RecommendedNodes int
	Confidence       float64
	TimeHorizon      time.Duration
	Reasoning        string
	Urgency          string
}

// Anomaly is one detected deviation from a series' recent baseline.
type Anomaly struct {
	MetricName    string
	TenantID      string
	CurrentValue  float64
	ExpectedValue float64
	Score         float64
	Severity      string
	Description   string
}

// Agent is C7's prediction control loop.
type Agent struct {
	systemMetrics SystemMetricsProvider
	cache         CacheManager
	scaler        Scaler
	clock         clock.Clock
	stats         agents.StatsTracker

	histories  map[string]*history
	regressors map[string]*regressor

	forecasts map[string]UsageForecast
	anomalies []Anomaly
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithClock overrides the injected clock.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// New builds a prediction Agent over already-constructed owners.
func New(systemMetrics SystemMetricsProvider, cache CacheManager, scaler Scaler, opts ...Option) *Agent {
	a := &Agent{
		systemMetrics: systemMetrics,
		cache:         cache,
		scaler:        scaler,
		clock:         clock.System(),
		histories:     make(map[string]*history),
		regressors:    make(map[string]*regressor),
		forecasts:     make(map[string]UsageForecast),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

const systemSeriesKey = "system"

func tenantSeriesKey(id string) string { return "tenant_" + id }

// RunCycle executes one iteration of the 300s prediction loop:
// collect, forecast, detect anomalies.
func (a *Agent) RunCycle(ctx context.Context) error {
	now := a.clock.Now()

	if err := a.collect(ctx, now); err != nil {
		a.stats.RecordError(now, err)
		return err
	}

	a.forecasts = make(map[string]UsageForecast)
	a.forecastSystem(now)
	a.forecastTenants(now)

	a.anomalies = nil
	a.anomalies = append(a.anomalies, a.detectSystemAnomalies()...)
	a.anomalies = append(a.anomalies, a.detectTenantAnomalies()...)

	outlook := a.scalingOutlook()
	if outlook != nil {
		a.stats.RecordDecision(now, true)
	} else {
		a.stats.Touch(now)
	}
	return nil
}

func (a *Agent) collect(ctx context.Context, now time.Time) error {
	sys, err := a.systemMetrics.CurrentSystemMetrics(ctx)
	if err != nil {
		return err
	}
	a.appendPoint(systemSeriesKey, now, map[string]float64{
		"cpu_usage":    sys.CPUUsagePercent,
		"memory_usage": sys.MemoryUsagePercent,
	})

	for _, t := range a.cache.ListTenants() {
		metrics, err := a.cache.GetTenantMetrics(t.ID)
		if err != nil {
			continue
		}
		a.appendPoint(tenantSeriesKey(t.ID), now, map[string]float64{
			"hit_ratio":         metrics.HitRatio(),
			"total_requests":    float64(metrics.TotalRequests),
			"avg_response_time": metrics.AvgResponseTimeMS,
		})
	}
	return nil
}

func (a *Agent) appendPoint(seriesKey string, now time.Time, values map[string]float64) {
	h, ok := a.histories[seriesKey]
	if !ok {
		h = &history{}
		a.histories[seriesKey] = h
	}
	h.add(point{
		timestamp: now,
		metrics:   values,
		hour:      now.Hour(),
		dayOfWeek: int(now.Weekday()),
	})
}

func (a *Agent) modelFor(seriesKey, metric string) *regressor {
	key := seriesKey + "_" + metric
	r, ok := a.regressors[key]
	if !ok {
		r = newRegressor(regressorWindowCap, regressorLearnRate)
		a.regressors[key] = r
	}
	return r
}

// trainSeries feeds every available (features, target) pair for metric
// into its regressor, matching _forecast_metric's train-or-update step.
func (a *Agent) trainSeries(seriesKey, metric string) {
	h, ok := a.histories[seriesKey]
	if !ok {
		return
	}
	r := a.modelFor(seriesKey, metric)
	for i := range h.points {
		features, ok := h.featuresAt(i, metric)
		if !ok {
			continue
		}
		r.add(features, h.points[i].metrics[metric])
	}
}

func (a *Agent) forecastMetric(seriesKey, metric, tenantID string, now time.Time) (UsageForecast, bool) {
	h, ok := a.histories[seriesKey]
	if !ok || len(h.points) < minHistoryForForecast {
		return UsageForecast{}, false
	}
	a.trainSeries(seriesKey, metric)
	r := a.modelFor(seriesKey, metric)
	if !r.ready() {
		return UsageForecast{}, false
	}

	lastIdx := len(h.points) - 1
	features, ok := h.featuresAt(lastIdx, metric)
	if !ok {
		return UsageForecast{}, false
	}

	predictions := make([]float64, 0, forecastHorizonHours)
	timestamps := make([]time.Time, 0, forecastHorizonHours)
	intervals := make([][2]float64, 0, forecastHorizonHours)
	rmse := r.rmse()

	cur := features
	for i := 0; i < forecastHorizonHours; i++ {
		pred := r.predict(cur)
		predictions = append(predictions, pred)
		timestamps = append(timestamps, now.Add(time.Duration(i+1)*time.Hour))
		margin := 2 * rmse
		lo := pred - margin
		if lo < 0 {
			lo = 0
		}
		intervals = append(intervals, [2]float64{lo, pred + margin})
		cur[0] = float64((int(cur[0]) + 1) % 24)
	}

	return UsageForecast{
		MetricName:          metric,
		TenantID:            tenantID,
		Predictions:         predictions,
		Timestamps:          timestamps,
		ConfidenceIntervals: intervals,
		AccuracyScore:       1.0 / (1.0 + r.mae()),
	}, true
}

func (a *Agent) forecastSystem(now time.Time) {
	for _, metric := range []string{"cpu_usage", "memory_usage"} {
		if f, ok := a.forecastMetric(systemSeriesKey, metric, "", now); ok {
			a.forecasts["system_"+metric] = f
		}
	}
}

func (a *Agent) forecastTenants(now time.Time) {
	for _, t := range a.cache.ListTenants() {
		key := tenantSeriesKey(t.ID)
		for _, metric := range []string{"hit_ratio", "total_requests", "avg_response_time"} {
			if f, ok := a.forecastMetric(key, metric, t.ID, now); ok {
				a.forecasts[t.ID+"_"+metric] = f
			}
		}
	}
}

// scalingOutlook derives an advisory recommendation from the near-term
// (6-hour) peak of the system CPU forecast, per _predict_scaling_needs.
func (a *Agent) scalingOutlook() *ScalingOutlook {
	forecast, ok := a.forecasts["system_cpu_usage"]
	if !ok || len(forecast.Predictions) == 0 {
		return nil
	}
	horizon := 6
	if horizon > len(forecast.Predictions) {
		horizon = len(forecast.Predictions)
	}
	peak := forecast.Predictions[0]
	for _, v := range forecast.Predictions[:horizon] {
		if v > peak {
			peak = v
		}
	}

	current := a.scaler.CurrentNodes()
	recommended := current
	var urgency, reasoning string
	switch {
	case peak > 90:
		recommended = current + 2
		urgency = "critical"
		reasoning = fmt.Sprintf("critical cpu usage predicted: %.1f%%", peak)
	case peak > 80:
		recommended = current + 1
		urgency = "high"
		reasoning = fmt.Sprintf("high cpu usage predicted: %.1f%%", peak)
	case peak < 30:
		recommended = current - 1
		if recommended < 1 {
			recommended = 1
		}
		urgency = "low"
		reasoning = fmt.Sprintf("low cpu usage predicted: %.1f%%, can scale down", peak)
	default:
		urgency = "medium"
		reasoning = fmt.Sprintf("moderate cpu usage predicted: %.1f%%", peak)
	}

	return &ScalingOutlook{
		PredictedLoad:    peak,
		RecommendedNodes: recommended,
		Confidence:       forecast.AccuracyScore,
		TimeHorizon:      6 * time.Hour,
		Reasoning:        reasoning,
		Urgency:          urgency,
	}
}

func (a *Agent) detectSystemAnomalies() []Anomaly {
	h, ok := a.histories[systemSeriesKey]
	if !ok || len(h.points) < 24 {
		return nil
	}
	var out []Anomaly
	for _, metric := range []string{"cpu_usage", "memory_usage"} {
		if an, ok := detectZScore(h, metric, "", 24); ok {
			out = append(out, an)
		}
	}
	return out
}

func (a *Agent) detectTenantAnomalies() []Anomaly {
	var out []Anomaly
	for _, t := range a.cache.ListTenants() {
		h, ok := a.histories[tenantSeriesKey(t.ID)]
		if !ok || len(h.points) < 24 {
			continue
		}
		if an, ok := detectZScore(h, "hit_ratio", t.ID, 24); ok {
			out = append(out, an)
		}
	}
	return out
}

func detectZScore(h *history, metric, tenantID string, window int) (Anomaly, bool) {
	current, ok := h.current(metric)
	if !ok {
		return Anomaly{}, false
	}
	values := h.recentWindow(metric, window)
	if len(values) == 0 {
		return Anomaly{}, false
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	std := math.Sqrt(sumSq / float64(len(values)))
	// Over a flat window any deviation scores +Inf and is flagged high.
	if std == 0 && current == mean {
		return Anomaly{}, false
	}

	z := (current - mean) / std
	if z < 0 {
		z = -z
	}
	if z <= anomalyThreshold {
		return Anomaly{}, false
	}

	severity := "medium"
	if z > anomalyHighThreshold {
		severity = "high"
	}

	return Anomaly{
		MetricName:    metric,
		TenantID:      tenantID,
		CurrentValue:  current,
		ExpectedValue: mean,
		Score:         z,
		Severity:      severity,
		Description:   fmt.Sprintf("%s anomaly: %.2f (expected ~%.2f)", metric, current, mean),
	}, true
}

// Forecasts returns the most recently generated forecast set, keyed by
// "<series>_<metric>".
func (a *Agent) Forecasts() map[string]UsageForecast {
	out := make(map[string]UsageForecast, len(a.forecasts))
	for k, v := range a.forecasts {
		out[k] = v
	}
	return out
}

// Anomalies returns the most recent cycle's detected anomalies.
func (a *Agent) Anomalies() []Anomaly {
	return append([]Anomaly(nil), a.anomalies...)
}

// Stats returns the agent's current decision/error tally.
func (a *Agent) Stats() agents.Stats {
	return a.stats.Snapshot()
}
