package scaler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenantcache/platform/internal/clock"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/internal/scaler"
	"github.com/tenantcache/platform/internal/tenant"
)

var errSimulated = errors.New("simulated executor failure")

type fakeExecutor struct {
	mu        sync.Mutex
	upCalls   []int
	downCalls []int
	failNext  bool
}

func (f *fakeExecutor) ScaleUp(_ context.Context, target int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errSimulated
	}
	f.upCalls = append(f.upCalls, target)
	return nil
}

func (f *fakeExecutor) ScaleDown(_ context.Context, target int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls = append(f.downCalls, target)
	return nil
}

func testScalingConfig() config.Scaling {
	cfg := config.Default().Scaling
	cfg.MinNodes = 2
	cfg.MaxNodes = 5
	cfg.ScaleUpThreshold = 70
	cfg.ScaleDownThreshold = 30
	cfg.ScaleUpCooldown = 5 * time.Minute
	cfg.ScaleDownCooldown = 10 * time.Minute
	return cfg
}

func TestEvaluateScaleUpOnHighCPU(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	decision, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 90, MemoryUsagePercent: 10, RequestsPerSecond: 10})
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, tenant.DecisionScaleUp, decision.DecisionType)
	require.Equal(t, 3, decision.TargetNodes)
}

func TestEvaluateNoActionWithinBand(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	decision, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 50, MemoryUsagePercent: 50, RequestsPerSecond: 500})
	require.NoError(t, err)
	require.Nil(t, decision)
}

func TestEvaluateScaleDownOnLowUsage(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := testScalingConfig()
	s, err := scaler.New(cfg, exec)
	require.NoError(t, err)

	// Bring current nodes above min via a scale-up execution first.
	ctx := context.Background()
	decision, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 90})
	require.NoError(t, err)
	require.NoError(t, s.Execute(ctx, *decision))
	require.Equal(t, 3, s.CurrentNodes())

	down, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 5, MemoryUsagePercent: 5, RequestsPerSecond: 1})
	require.NoError(t, err)
	require.NotNil(t, down)
	require.Equal(t, tenant.DecisionScaleDown, down.DecisionType)
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	exec := &fakeExecutor{}
	mock := clock.NewMock(time.Now())
	s, err := scaler.New(testScalingConfig(), exec, scaler.WithClock(mock))
	require.NoError(t, err)

	ctx := context.Background()
	decision, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 90})
	require.NoError(t, err)
	require.NoError(t, s.Execute(ctx, *decision))

	again, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 99})
	require.NoError(t, err)
	require.Nil(t, again, "should be in scale-up cooldown")

	mock.Advance(6 * time.Minute)
	again, err = s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 99})
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestExecuteRecordsHistoryAndUpdatesNodeCount(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	decision, err := s.Evaluate(scaler.MetricsSnapshot{CPUUsagePercent: 90})
	require.NoError(t, err)
	require.NoError(t, s.Execute(context.Background(), *decision))

	history := s.Decisions()
	require.Len(t, history, 1)
	require.True(t, history[0].Executed)
	require.True(t, history[0].Successful)
	require.Equal(t, 3, s.CurrentNodes())
}

func TestForceScaleRejectsOutOfRange(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	err = s.ForceScale(context.Background(), 99)
	require.Error(t, err)
}

func TestForceScaleDrivesToTarget(t *testing.T) {
	exec := &fakeExecutor{}
	s, err := scaler.New(testScalingConfig(), exec)
	require.NoError(t, err)

	require.NoError(t, s.ForceScale(context.Background(), 4))
	require.Equal(t, 4, s.CurrentNodes())
}
