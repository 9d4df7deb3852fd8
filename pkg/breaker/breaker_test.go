package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoPassesThroughSuccess(t *testing.T) {
	b := New("test", Config{})
	err := b.Do(context.Background(), func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

func TestDoOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 3})
	boom := errors.New("backend down")

	for i := 0; i < 3; i++ {
		err := b.Do(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	err := b.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, "open", b.State())
}

func TestDoCancelledContextDoesNotChargeBreaker(t *testing.T) {
	b := New("test", Config{ConsecutiveFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func() error { return errors.New("should not run") })
	assert.ErrorIs(t, err, context.Canceled)

	// Circuit stays closed: the cancelled call never reached it.
	assert.NoError(t, b.Do(context.Background(), func() error { return nil }))
}
