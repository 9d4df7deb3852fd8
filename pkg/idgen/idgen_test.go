package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStringIsUniqueAndNonEmpty(t *testing.T) {
	g, err := New()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := g.NextString()
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestHostnameMachineIDFitsSixteenBits(t *testing.T) {
	id, err := hostnameMachineID()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, 0)
	assert.LessOrEqual(t, id, 0xffff)
}
