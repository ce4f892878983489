package domain

import (
	"database/sql"
	"time"
)

// Job tracks one run of the batch scraping task. A single row per run is
// kept in scrape_jobs; at most one job may be in a non-terminal status at
// any time (enforced by a partial unique index in storage).
type Job struct {
	JobID           string         `db:"job_id" json:"job_id"`
	Status          string         `db:"status" json:"status"`
	Kind            string         `db:"kind" json:"kind"`
	TotalCount      int            `db:"total_count" json:"total_count"`
	ProcessedCount  int            `db:"processed_count" json:"processed_count"`
	SuccessCount    int            `db:"success_count" json:"success_count"`
	ErrorCount      int            `db:"error_count" json:"error_count"`
	CurrentBatch    int            `db:"current_batch" json:"current_batch"`
	BatchSize       int            `db:"batch_size" json:"batch_size"`
	RateLimitCount  int            `db:"rate_limit_count" json:"rate_limit_count"`
	RetryCount      int            `db:"retry_count" json:"retry_count"`
	SlowModeActive  bool           `db:"slow_mode_active" json:"slow_mode_active"`
	SpeedMultiplier float64        `db:"speed_multiplier" json:"speed_multiplier"`
	LastError       sql.NullString `db:"last_error" json:"-"`
	CreatedBy       string         `db:"created_by" json:"created_by"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at" json:"-"`
	CompletedAt     sql.NullTime   `db:"completed_at" json:"-"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// Remaining reports how many work items the job still has to process.
func (j *Job) Remaining() int {
	if j.ProcessedCount >= j.TotalCount {
		return 0
	}
	return j.TotalCount - j.ProcessedCount
}

// Done reports whether every discovered work item has been processed.
func (j *Job) Done() bool {
	return j.ProcessedCount >= j.TotalCount
}

// BatchDelta is the atomic counter update a batch applies to its job row.
// All counter fields are increments; SlowModeActive and SpeedMultiplier are
// absolute values (the throttle controller only ever raises them).
type BatchDelta struct {
	Processed       int
	Success         int
	Errors          int
	RateLimits      int
	Retries         int
	SlowModeActive  bool
	SpeedMultiplier float64
}
