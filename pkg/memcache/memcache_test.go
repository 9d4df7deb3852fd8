package memcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newCache(t)
	c.Set("k", []byte("v"), 1, 0)
	c.Wait()

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestGetMissing(t *testing.T) {
	c := newCache(t)
	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestDelRemoves(t *testing.T) {
	c := newCache(t)
	c.Set("k", []byte("v"), 1, 0)
	c.Wait()
	c.Del("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLExpires(t *testing.T) {
	c := newCache(t)
	c.Set("k", []byte("v"), 1, 30*time.Millisecond)
	c.Wait()

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
