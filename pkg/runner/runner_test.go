package runner

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPropagatesServiceError(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { <-ctx.Done(); return nil },
	)
	assert.ErrorIs(t, err, boom)
}

func TestRunCancelsSiblingsOnFirstReturn(t *testing.T) {
	var sawCancel bool
	err := Run(context.Background(),
		func(ctx context.Context) error { return errors.New("first") },
		func(ctx context.Context) error {
			<-ctx.Done()
			sawCancel = true
			return nil
		},
	)
	require.Error(t, err)
	assert.True(t, sawCancel)
}

func TestRunReturnsErrSignal(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}()

	// Give the run loop time to install its signal handler.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSignal)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on signal")
	}
}

func TestRunStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on parent cancel")
	}
}
