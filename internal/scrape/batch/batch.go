// Package batch executes one bounded slice of scraping work. Items are
// processed strictly sequentially so the external request rate stays
// predictable and under the throttle controller's control.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
	"github.com/scoutbase/scraperd/internal/scrape/extract"
	"github.com/scoutbase/scraperd/internal/scrape/throttle"
)

// Store is the slice of the durable store the processor needs.
type Store interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	PendingTargets(ctx context.Context, kind string, limit int) ([]domain.Target, error)
	SaveResult(ctx context.Context, targetID string, fields domain.ProfileFields) (bool, error)
	MarkTargetFailed(ctx context.Context, targetID, reason string) (bool, error)
	ApplyBatchResult(ctx context.Context, jobID string, delta domain.BatchDelta) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, lastError string) error
}

// Extractor fetches and parses one profile page.
type Extractor interface {
	Extract(ctx context.Context, url string) (domain.ProfileFields, error)
}

// LogSink receives the human-readable progress lines of a job. In the API
// service this is the in-memory buffer; in the worker it is the relay that
// forwards lines to the API over the broker.
type LogSink interface {
	Append(jobID, message string)
}

// Processor runs one batch per invocation.
type Processor struct {
	store     Store
	extractor Extractor
	throttle  *throttle.Controller
	logs      LogSink
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// New creates a Processor.
func New(store Store, extractor Extractor, throttle *throttle.Controller, logs LogSink, logger *slog.Logger) *Processor {
	return &Processor{
		store:     store,
		extractor: extractor,
		throttle:  throttle,
		logs:      logs,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// RunBatch processes up to batch_size pending targets for the job and folds
// the outcome into the job record. It returns completed=true when the job
// has processed every discovered item. Item-level failures never fail the
// batch; an error outside the item loop marks the job failed and is
// returned to the caller. A batch cut short by context cancellation is not
// a failure: the job stays RUNNING and the error propagates so the hop can
// be redelivered and re-derive its work from the unclaimed targets.
func (p *Processor) RunBatch(ctx context.Context, jobID string) (completed bool, err error) {
	job, err := p.store.GetJobByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to load job: %w", err)
	}

	// A stale continuation trigger may still be in flight after a pause or
	// cancel; only a running job may consume items.
	if job.Status != domain.JobStatusRunning {
		p.logger.Info("Skipping batch for non-running job",
			slog.String("job_id", jobID),
			slog.String("status", job.Status),
		)
		return false, nil
	}

	targets, err := p.store.PendingTargets(ctx, job.Kind, job.BatchSize)
	if err != nil {
		return false, p.failJob(ctx, job, fmt.Errorf("failed to select pending targets: %w", err))
	}

	if len(targets) == 0 {
		// Counter drift or an externally drained target set: close the job
		// out rather than spinning.
		if err := p.store.CompleteJob(ctx, job.JobID); err != nil {
			return false, p.failJob(ctx, job, fmt.Errorf("failed to complete job: %w", err))
		}
		p.logs.Append(job.JobID, "no pending targets left, job completed")
		return true, nil
	}

	delta := domain.BatchDelta{}
	batchNum := job.CurrentBatch + 1
	p.logs.Append(job.JobID, fmt.Sprintf("batch %d started: %d targets", batchNum, len(targets)))

	for _, target := range targets {
		if err := p.sleep(ctx, p.throttle.Delay(job)); err != nil {
			return false, fmt.Errorf("batch interrupted: %w", err)
		}

		fields, extractErr := p.extractor.Extract(ctx, target.SourceURL)
		switch {
		case extractErr == nil:
			claimed, saveErr := p.store.SaveResult(ctx, target.TargetID, fields)
			if saveErr != nil {
				return false, p.failJob(ctx, job, fmt.Errorf("failed to persist target %s: %w", target.ExternalID, saveErr))
			}
			if claimed {
				delta.Processed++
				delta.Success++
			}

		case errors.Is(extractErr, extract.ErrThrottled):
			// Throttled items stay unclaimed and are retried on a later
			// batch once the chain has slowed down.
			p.throttle.Escalate(job)
			delta.RateLimits++
			p.logs.Append(job.JobID, fmt.Sprintf("rate limited on %s (signal %d, multiplier %.2f)",
				target.ExternalID, job.RateLimitCount, job.SpeedMultiplier))
			p.logger.Warn("Throttle signal from source",
				slog.String("job_id", job.JobID),
				slog.String("external_id", target.ExternalID),
				slog.Int("rate_limit_count", job.RateLimitCount),
				slog.Bool("slow_mode", job.SlowModeActive),
			)

		default:
			claimed, markErr := p.store.MarkTargetFailed(ctx, target.TargetID, extractErr.Error())
			if markErr != nil {
				return false, p.failJob(ctx, job, fmt.Errorf("failed to mark target %s: %w", target.ExternalID, markErr))
			}
			if claimed {
				delta.Processed++
				delta.Errors++
				delta.Retries++
			}
			p.logs.Append(job.JobID, fmt.Sprintf("failed %s: %v", target.ExternalID, extractErr))
		}
	}

	delta.SlowModeActive = job.SlowModeActive
	delta.SpeedMultiplier = job.SpeedMultiplier

	if err := p.store.ApplyBatchResult(ctx, job.JobID, delta); err != nil {
		return false, p.failJob(ctx, job, fmt.Errorf("failed to record batch result: %w", err))
	}

	processed := job.ProcessedCount + delta.Processed
	p.logs.Append(job.JobID, fmt.Sprintf("batch %d finished: %d ok, %d failed, %d rate limited (%d/%d total)",
		batchNum, delta.Success, delta.Errors, delta.RateLimits, processed, job.TotalCount))
	p.logger.Info("Batch finished",
		slog.String("job_id", job.JobID),
		slog.Int("batch", batchNum),
		slog.Int("success", delta.Success),
		slog.Int("errors", delta.Errors),
		slog.Int("rate_limits", delta.RateLimits),
		slog.Int("processed_total", processed),
		slog.Int("total", job.TotalCount),
	)

	if processed >= job.TotalCount {
		if err := p.store.CompleteJob(ctx, job.JobID); err != nil {
			return false, p.failJob(ctx, job, fmt.Errorf("failed to complete job: %w", err))
		}
		p.logs.Append(job.JobID, "all targets processed, job completed")
		return true, nil
	}

	return false, nil
}

// failJob marks the job failed with the batch-level error and returns that
// error for the caller. Failing the failure write is logged but the
// original error is what propagates. When the surrounding context is
// already cancelled the job is left RUNNING: the batch was interrupted,
// not broken, and the redelivered hop picks up where it stopped.
func (p *Processor) failJob(ctx context.Context, job *domain.Job, cause error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("batch interrupted: %w", cause)
	}

	p.logs.Append(job.JobID, fmt.Sprintf("batch failed: %v", cause))

	// The status write must not be lost to a cancellation racing the batch.
	if err := p.store.FailJob(context.WithoutCancel(ctx), job.JobID, cause.Error()); err != nil {
		p.logger.Error("Failed to mark job as failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
	return cause
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
