package scaling_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenantcache/platform/internal/agents/scaling"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/scaler"
)

type fakeExecutor struct {
	mu      sync.Mutex
	upCalls int
}

func (f *fakeExecutor) ScaleUp(_ context.Context, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upCalls++
	return nil
}

func (f *fakeExecutor) ScaleDown(_ context.Context, _ int) error { return nil }

type fakeMetrics struct {
	mu  sync.Mutex
	seq []scaling.Features
	i   int
}

func (f *fakeMetrics) CurrentFeatures(_ context.Context) (scaling.Features, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i >= len(f.seq) {
		return f.seq[len(f.seq)-1], nil
	}
	v := f.seq[f.i]
	f.i++
	return v, nil
}

func testScalingConfig() config.Scaling {
	cfg := config.Default().Scaling
	cfg.MinNodes = 2
	cfg.MaxNodes = 6
	cfg.ScaleUpThreshold = 70
	cfg.ScaleDownThreshold = 30
	cfg.ScaleUpCooldown = 5 * time.Minute
	cfg.ScaleDownCooldown = 10 * time.Minute
	return cfg
}

func TestRunCycleExecutesScaleUpOnHighCPU(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	metrics := &fakeMetrics{seq: []scaling.Features{
		{CPUUsagePercent: 95, MemoryUsagePercent: 10, RequestRate: 10},
	}}
	a := scaling.New(s, metrics)

	require.NoError(t, a.RunCycle(context.Background()))

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Equal(t, 1, exec.upCalls)

	stats := a.Stats()
	require.Equal(t, int64(1), stats.TotalDecisions)
	require.Equal(t, int64(1), stats.SuccessfulDecisions)
}

func TestRunCycleNoActionWithinBand(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	metrics := &fakeMetrics{seq: []scaling.Features{
		{CPUUsagePercent: 50, MemoryUsagePercent: 50, RequestRate: 500},
	}}
	a := scaling.New(s, metrics)

	require.NoError(t, a.RunCycle(context.Background()))

	stats := a.Stats()
	require.Equal(t, int64(0), stats.TotalDecisions)
	require.False(t, stats.LastActivity.IsZero())
}

func TestRunCycleFeedsRegressorAcrossCycles(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	seq := make([]scaling.Features, 0, 120)
	for i := 0; i < 120; i++ {
		seq = append(seq, scaling.Features{CPUUsagePercent: 40, MemoryUsagePercent: 40, RequestRate: 100, CurrentNodes: 2})
	}
	metrics := &fakeMetrics{seq: seq}
	a := scaling.New(s, metrics)

	for i := 0; i < len(seq); i++ {
		require.NoError(t, a.RunCycle(context.Background()))
	}
	// Stable, low-variance input should never trigger a scaling decision.
	stats := a.Stats()
	require.Equal(t, int64(0), stats.TotalDecisions)
}

func TestRunCycleReturnsProviderError(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	a := scaling.New(s, &erroringMetrics{})
	err = a.RunCycle(context.Background())
	require.Error(t, err)

	stats := a.Stats()
	require.Equal(t, int64(1), stats.ErrorCount)
}

type erroringMetrics struct{}

func (erroringMetrics) CurrentFeatures(context.Context) (scaling.Features, error) {
	return scaling.Features{}, errBoom
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
