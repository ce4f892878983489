// Package throttle adapts the inter-request delay of a scrape job to
// rate-limit signals from the source site. Escalation is monotonic: once a
// job has been slowed it stays slow for the rest of its run, which avoids
// oscillating against the site's limiter.
package throttle

import (
	"time"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
)

// MinMultiplier is the floor for a job's speed multiplier.
const MinMultiplier = 0.1

// Config holds the throttling policy.
type Config struct {
	// BaseDelay is the nominal pause before each external request.
	BaseDelay time.Duration
	// SlowModeThreshold is the rate-limit count at which slow mode latches.
	SlowModeThreshold int
	// SlowModeMultiplier is the delay multiplier applied when slow mode
	// first activates.
	SlowModeMultiplier float64
	// EscalationFactor multiplies the speed multiplier on every further
	// rate-limit signal while in slow mode.
	EscalationFactor float64
}

// Controller computes delays from job counters and escalates them on
// rate-limit signals. It holds no per-job state: everything it needs lives
// on the Job record, so duplicate batch executions see the same policy.
type Controller struct {
	cfg Config
}

// New creates a Controller, filling in defaults for zero config values.
func New(cfg Config) *Controller {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.SlowModeThreshold <= 0 {
		cfg.SlowModeThreshold = 3
	}
	if cfg.SlowModeMultiplier <= 1 {
		cfg.SlowModeMultiplier = 5.0
	}
	if cfg.EscalationFactor <= 1 {
		cfg.EscalationFactor = 1.5
	}
	return &Controller{cfg: cfg}
}

// Delay returns the pause to apply before the next external request.
func (c *Controller) Delay(j *domain.Job) time.Duration {
	m := j.SpeedMultiplier
	if m < MinMultiplier {
		m = MinMultiplier
	}
	if j.SlowModeActive && m < c.cfg.SlowModeMultiplier {
		m = c.cfg.SlowModeMultiplier
	}
	return time.Duration(float64(c.cfg.BaseDelay) * m)
}

// Escalate records one rate-limit signal on the job. Past the configured
// threshold it latches slow mode; every signal after that raises the speed
// multiplier, so the delay strictly increases while the site keeps pushing
// back.
func (c *Controller) Escalate(j *domain.Job) {
	j.RateLimitCount++

	if j.RateLimitCount < c.cfg.SlowModeThreshold {
		return
	}

	if !j.SlowModeActive {
		j.SlowModeActive = true
		if j.SpeedMultiplier < c.cfg.SlowModeMultiplier {
			j.SpeedMultiplier = c.cfg.SlowModeMultiplier
		}
		return
	}

	j.SpeedMultiplier *= c.cfg.EscalationFactor
}
