// Package storage is the durable store for scrape jobs and targets, built
// on sqlx over PostgreSQL. The single-active-job invariant is enforced by a
// partial unique index on scrape_jobs (see db/schema.sql), not by a
// read-then-create sequence, so concurrent creators cannot race past it.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
	"github.com/scoutbase/scraperd/shared/postgresql"
)

const uniqueViolation = "23505"

// Storage handles all database operations for the orchestrator.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Storage backed by the given PostgreSQL client.
func New(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// NewWithDB creates a Storage from a raw sqlx handle (used by tests).
func NewWithDB(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{db: db, logger: logger}
}

// CreateJob inserts a new job row. The job slot's partial unique index
// rejects the insert while any non-terminal job exists, in which case
// domain.ErrJobAlreadyRunning is returned.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO scrape_jobs (
			job_id, status, kind, total_count, processed_count, success_count,
			error_count, current_batch, batch_size, rate_limit_count,
			retry_count, slow_mode_active, speed_multiplier, created_by,
			created_at, started_at, updated_at
		) VALUES (
			:job_id, :status, :kind, :total_count, :processed_count, :success_count,
			:error_count, :current_batch, :batch_size, :rate_limit_count,
			:retry_count, :slow_mode_active, :speed_multiplier, :created_by,
			:created_at, :started_at, :updated_at
		)
	`

	_, err := s.db.NamedExecContext(ctx, query, job)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return domain.ErrJobAlreadyRunning
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Scrape job created",
		slog.String("job_id", job.JobID),
		slog.String("kind", job.Kind),
		slog.Int("total_count", job.TotalCount),
		slog.Int("batch_size", job.BatchSize),
	)

	return nil
}

// GetJobByID retrieves a job by its id.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT * FROM scrape_jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetActiveJob returns the most recent job occupying the single job slot
// (status in the non-terminal set), or nil when the slot is free. Paused and
// canceled jobs are included so the continuation scheduler can observe the
// stop signal.
func (s *Storage) GetActiveJob(ctx context.Context) (*domain.Job, error) {
	query := `
		SELECT * FROM scrape_jobs
		WHERE status IN ($1, $2, $3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query,
		domain.JobStatusPending,
		domain.JobStatusRunning,
		domain.JobStatusPaused,
		domain.JobStatusCanceled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return &job, nil
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status   string
	Kind     string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset pagination cursor over (created_at, job_id).
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs newest-first with keyset pagination. One extra row
// beyond PageSize is fetched so the caller can detect a next page.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT * FROM scrape_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ApplyBatchResult atomically folds one batch's outcome into the job row:
// counter increments, one batch attempt, and the throttle state the batch
// ended with. All increments happen in SQL so concurrent readers never see
// a partially applied batch.
func (s *Storage) ApplyBatchResult(ctx context.Context, jobID string, delta domain.BatchDelta) error {
	query := `
		UPDATE scrape_jobs
		SET processed_count = processed_count + $1,
		    success_count = success_count + $2,
		    error_count = error_count + $3,
		    rate_limit_count = rate_limit_count + $4,
		    retry_count = retry_count + $5,
		    current_batch = current_batch + 1,
		    slow_mode_active = slow_mode_active OR $6,
		    speed_multiplier = GREATEST(speed_multiplier, $7),
		    updated_at = NOW()
		WHERE job_id = $8
	`

	result, err := s.db.ExecContext(ctx, query,
		delta.Processed,
		delta.Success,
		delta.Errors,
		delta.RateLimits,
		delta.Retries,
		delta.SlowModeActive,
		delta.SpeedMultiplier,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply batch result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// PauseJob transitions a running job to paused.
func (s *Storage) PauseJob(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, domain.JobStatusPaused, "", false,
		domain.JobStatusRunning)
}

// CancelJob transitions a running or paused job to canceled.
func (s *Storage) CancelJob(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, domain.JobStatusCanceled, "", false,
		domain.JobStatusRunning, domain.JobStatusPaused)
}

// CompleteJob transitions a running job to completed and stamps
// completed_at.
func (s *Storage) CompleteJob(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, domain.JobStatusCompleted, "", true,
		domain.JobStatusRunning)
}

// FailJob transitions a running job to failed, recording last_error.
func (s *Storage) FailJob(ctx context.Context, jobID, lastError string) error {
	return s.transition(ctx, jobID, domain.JobStatusFailed, lastError, true,
		domain.JobStatusRunning)
}

// transition applies a guarded status change: the UPDATE only matches rows
// whose current status is in fromStatuses, so stale or duplicate callers
// cannot resurrect a terminal job.
func (s *Storage) transition(ctx context.Context, jobID, toStatus, lastError string, stampCompleted bool, fromStatuses ...string) error {
	query := `
		UPDATE scrape_jobs
		SET status = $1,
		    last_error = NULLIF($2, ''),
		    completed_at = CASE WHEN $3 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE job_id = $4 AND status = ANY($5)
	`

	result, err := s.db.ExecContext(ctx, query,
		toStatus, lastError, stampCompleted, jobID, pq.Array(fromStatuses))
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing job from a disallowed transition.
		if _, getErr := s.GetJobByID(ctx, jobID); getErr != nil {
			return getErr
		}
		return domain.ErrInvalidTransition
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", toStatus),
	)

	return nil
}

// DeleteJob removes a job row so the single job slot is freed. Running
// jobs must be paused or canceled first.
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	query := `DELETE FROM scrape_jobs WHERE job_id = $1 AND status <> $2`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetJobByID(ctx, jobID); getErr != nil {
			return getErr
		}
		return domain.ErrJobRunning
	}

	return nil
}

// CountPendingTargets counts targets still awaiting extraction.
func (s *Storage) CountPendingTargets(ctx context.Context, kind string) (int, error) {
	query := `SELECT COUNT(*) FROM scrape_targets WHERE processed_at IS NULL`
	args := []interface{}{}
	if kind != "" && kind != domain.KindAll {
		query += ` AND kind = $1`
		args = append(args, kind)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count pending targets: %w", err)
	}
	return count, nil
}

// PendingTargets returns up to limit unprocessed targets in a stable order.
func (s *Storage) PendingTargets(ctx context.Context, kind string, limit int) ([]domain.Target, error) {
	query := `SELECT * FROM scrape_targets WHERE processed_at IS NULL`
	args := []interface{}{}
	argIdx := 1

	if kind != "" && kind != domain.KindAll {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, kind)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY target_id LIMIT $%d", argIdx)
	args = append(args, limit)

	var targets []domain.Target
	if err := s.db.SelectContext(ctx, &targets, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select pending targets: %w", err)
	}
	return targets, nil
}

// SaveResult persists extracted fields and marks the target processed. The
// conditional on processed_at makes re-processing idempotent: a duplicate
// batch run gets claimed=false and must not advance any counters.
func (s *Storage) SaveResult(ctx context.Context, targetID string, fields domain.ProfileFields) (claimed bool, err error) {
	query := `
		UPDATE scrape_targets
		SET fields = $1,
		    last_error = NULL,
		    processed_at = NOW()
		WHERE target_id = $2 AND processed_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, fields, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to save result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// MarkTargetFailed records a per-item failure and marks the target
// processed so the chain can make progress past broken pages. Same claim
// semantics as SaveResult.
func (s *Storage) MarkTargetFailed(ctx context.Context, targetID, reason string) (claimed bool, err error) {
	query := `
		UPDATE scrape_targets
		SET last_error = $1,
		    processed_at = NOW()
		WHERE target_id = $2 AND processed_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, reason, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to mark target failed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}
