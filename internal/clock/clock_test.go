package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tenantcache/platform/internal/clock"
)

func TestMockAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := clock.NewMock(base)

	assert.Equal(t, base, m.Now())

	m.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), m.Now())
}

func TestSystemClockAdvancesOverTime(t *testing.T) {
	c := clock.System()
	first := c.Now()
	time.Sleep(time.Millisecond)
	assert.True(t, c.Now().After(first) || c.Now().Equal(first))
}
