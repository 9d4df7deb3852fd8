package keymutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLockUnlockSameKey(t *testing.T) {
	km := New()
	ctx := context.Background()

	release, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	release()

	release2, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	release2()
}

func TestSecondLockerBlocksUntilRelease(t *testing.T) {
	km := New()
	ctx := context.Background()

	release, err := km.Lock(ctx, "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r2, err := km.Lock(ctx, "a")
		assert.NoError(t, err)
		close(acquired)
		r2()
	}()

	select {
	case <-acquired:
		t.Fatal("second locker acquired while first held")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second locker never acquired after release")
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	km := New()
	ctx := context.Background()

	r1, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := km.Lock(ctx, "b")
		assert.NoError(t, err)
		r2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestCancelledContextAbortsWait(t *testing.T) {
	km := New()

	release, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	km := New()
	release, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	release()
	release() // second call must not panic or unlock someone else's hold

	r2, err := km.Lock(context.Background(), "a")
	require.NoError(t, err)
	r2()
}

func TestEntriesAreReclaimed(t *testing.T) {
	km := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := km.Lock(context.Background(), "shared")
			assert.NoError(t, err)
			r()
		}()
	}
	wg.Wait()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.entries)
}
