package lrucache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New[string, int](4, 0)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	assert.Equal(t, 2, c.Len())
}

func TestTTLExpiresEntries(t *testing.T) {
	c := New[string, int](8, 30*time.Millisecond)
	c.Set("a", 1)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestKeysOldestFirst(t *testing.T) {
	c := New[string, int](4, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestZeroSizeFallsBack(t *testing.T) {
	c := New[string, int](0, 0)
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.True(t, ok)
}
