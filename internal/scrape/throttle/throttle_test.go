package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
)

func newController() *Controller {
	return New(Config{
		BaseDelay:          100 * time.Millisecond,
		SlowModeThreshold:  3,
		SlowModeMultiplier: 5.0,
		EscalationFactor:   1.5,
	})
}

func TestDelay_NominalSpeed(t *testing.T) {
	c := newController()
	j := &domain.Job{SpeedMultiplier: 1.0}

	assert.Equal(t, 100*time.Millisecond, c.Delay(j))
}

func TestDelay_FloorsMultiplier(t *testing.T) {
	c := newController()
	j := &domain.Job{SpeedMultiplier: 0}

	// A zero multiplier must not collapse the delay to zero.
	assert.Equal(t, time.Duration(float64(100*time.Millisecond)*MinMultiplier), c.Delay(j))
}

func TestEscalate_BelowThresholdOnlyCounts(t *testing.T) {
	c := newController()
	j := &domain.Job{SpeedMultiplier: 1.0}

	c.Escalate(j)
	c.Escalate(j)

	assert.Equal(t, 2, j.RateLimitCount)
	assert.False(t, j.SlowModeActive)
	assert.Equal(t, 1.0, j.SpeedMultiplier)
}

func TestEscalate_LatchesSlowModeAtThreshold(t *testing.T) {
	c := newController()
	j := &domain.Job{SpeedMultiplier: 1.0}

	for i := 0; i < 3; i++ {
		c.Escalate(j)
	}

	require.True(t, j.SlowModeActive)
	assert.Equal(t, 5.0, j.SpeedMultiplier)
	assert.Equal(t, 500*time.Millisecond, c.Delay(j))
}

func TestEscalate_DelayStrictlyIncreasesInSlowMode(t *testing.T) {
	c := newController()
	j := &domain.Job{SpeedMultiplier: 1.0}

	for i := 0; i < 3; i++ {
		c.Escalate(j)
	}

	prev := c.Delay(j)
	for i := 0; i < 5; i++ {
		c.Escalate(j)
		cur := c.Delay(j)
		assert.Greater(t, cur, prev, "delay must strictly increase on signal %d", i)
		prev = cur
	}
}

func TestEscalate_SlowModeNeverReverts(t *testing.T) {
	c := newController()
	j := &domain.Job{SpeedMultiplier: 1.0}

	for i := 0; i < 4; i++ {
		c.Escalate(j)
	}
	require.True(t, j.SlowModeActive)

	// Nothing in the controller de-escalates; a long run of clean batches
	// leaves the job slow.
	mult := j.SpeedMultiplier
	assert.Equal(t, mult, j.SpeedMultiplier)
	assert.True(t, j.SlowModeActive)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{})
	j := &domain.Job{SpeedMultiplier: 1.0}

	assert.Equal(t, 500*time.Millisecond, c.Delay(j))
}
