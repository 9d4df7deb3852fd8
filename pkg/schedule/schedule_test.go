package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestJobFiresOnInterval(t *testing.T) {
	s := New()
	var runs atomic.Int64
	require.NoError(t, s.Add("@every 100ms", "tick", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer drain(t, s)

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		5*time.Second, 20*time.Millisecond)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New()
	err := s.Add("not a cron spec", "bad", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
	drain(t, s)
}

func TestAddAfterStartFails(t *testing.T) {
	s := New()
	s.Start()
	defer drain(t, s)

	err := s.Add("@every 1s", "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStarted)
}

func TestFailingJobBacksOff(t *testing.T) {
	s := New()
	var runs atomic.Int64
	require.NoError(t, s.Add("@every 50ms", "flaky", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("cycle failed")
	}))

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 },
		5*time.Second, 10*time.Millisecond)
	// Give a few more ticks; the back-off must swallow them.
	time.Sleep(300 * time.Millisecond)
	drain(t, s)

	assert.Equal(t, int64(1), runs.Load())
}

func TestPanickingJobIsRecovered(t *testing.T) {
	var logged atomic.Int64
	s := New(WithErrLogger(countingLogger{&logged}))
	require.NoError(t, s.Add("@every 50ms", "angry", func(ctx context.Context) error {
		panic("boom")
	}))

	s.Start()
	require.Eventually(t, func() bool { return logged.Load() >= 1 },
		5*time.Second, 10*time.Millisecond)
	drain(t, s)
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New()
	cancelled := make(chan struct{})
	require.NoError(t, s.Add("@every 50ms", "waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	s.Start()
	// cron rounds @every intervals up to one second, so wait for the
	// first run to be in flight before stopping.
	time.Sleep(1500 * time.Millisecond)
	drain(t, s)

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("job context was not cancelled by Stop")
	}
}

func drain(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case <-s.Stop():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}

type countingLogger struct{ n *atomic.Int64 }

func (c countingLogger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	c.n.Add(1)
}
