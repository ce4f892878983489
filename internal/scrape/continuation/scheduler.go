// Package continuation keeps a long scrape job alive across short
// executions. Each hop runs exactly one batch and then enqueues the next
// hop on a durable queue; the chain is the sum of those hops, not a
// long-lived worker. Using the broker instead of a fire-and-forget self
// call makes the continuation step itself retryable: an unacked hop is
// redelivered, and a failed publish propagates so the current delivery is
// requeued.
package continuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
)

// Message is one continuation hop on the wire.
type Message struct {
	JobID string `json:"job_id"`
}

// Store is the slice of the durable store the scheduler needs.
type Store interface {
	GetActiveJob(ctx context.Context) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, lastError string) error
}

// Runner executes one batch for a job.
type Runner interface {
	RunBatch(ctx context.Context, jobID string) (completed bool, err error)
}

// Publisher enqueues the next continuation hop.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// LogSink receives the chain's progress lines.
type LogSink interface {
	Initialize(jobID string)
	Append(jobID, message string)
}

// Result reports what Advance decided.
type Result struct {
	Stopped bool
	Reason  string
}

// Scheduler decides, after each batch, whether the chain continues.
type Scheduler struct {
	store      Store
	runner     Runner
	publisher  Publisher
	logs       LogSink
	logger     *slog.Logger
	batchPause time.Duration

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// New creates a Scheduler. batchPause is the fixed delay between a batch
// finishing and the next hop being enqueued.
func New(store Store, runner Runner, publisher Publisher, logs LogSink, batchPause time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		runner:     runner,
		publisher:  publisher,
		logs:       logs,
		logger:     logger,
		batchPause: batchPause,
		sleep:      sleepCtx,
	}
}

// Start enqueues the first hop for a freshly created job.
func (s *Scheduler) Start(ctx context.Context, jobID string) error {
	s.logs.Initialize(jobID)
	s.logs.Append(jobID, "job started")
	return s.publish(ctx, jobID)
}

// Advance runs one hop of the chain: load the active job, stop if it is
// quiescent or done, otherwise run one batch and enqueue the next hop.
// jobID is the job the hop was enqueued for; a hop whose job no longer
// holds the active slot is dropped without touching the current job.
func (s *Scheduler) Advance(ctx context.Context, jobID string) (Result, error) {
	job, err := s.store.GetActiveJob(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load active job: %w", err)
	}
	if job == nil {
		return Result{Stopped: true, Reason: "no active job"}, nil
	}
	if job.JobID != jobID {
		s.logger.Warn("Dropping stale continuation hop",
			slog.String("hop_job_id", jobID),
			slog.String("active_job_id", job.JobID),
		)
		return Result{Stopped: true, Reason: "job no longer active"}, nil
	}

	switch job.Status {
	case domain.JobStatusPaused, domain.JobStatusCanceled:
		// Quiescent: halt the chain silently and leave the record intact.
		s.logs.Append(job.JobID, fmt.Sprintf("chain halted: job is %s", job.Status))
		s.logger.Info("Continuation halted",
			slog.String("job_id", job.JobID),
			slog.String("status", job.Status),
		)
		return Result{Stopped: true, Reason: job.Status}, nil
	}

	if job.Done() {
		if err := s.store.CompleteJob(ctx, job.JobID); err != nil {
			return Result{}, fmt.Errorf("failed to complete job: %w", err)
		}
		s.logs.Append(job.JobID, "job completed")
		return Result{Stopped: true, Reason: "completed"}, nil
	}

	completed, err := s.runner.RunBatch(ctx, job.JobID)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Interrupted, not failed: the job is still RUNNING. Propagate
			// so the delivery is nacked and the hop redelivered.
			return Result{}, fmt.Errorf("batch interrupted: %w", err)
		}
		// RunBatch already marked the job failed; the chain ends here.
		s.logger.Error("Batch failed, chain stopped",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return Result{Stopped: true, Reason: "failed"}, nil
	}
	if completed {
		return Result{Stopped: true, Reason: "completed"}, nil
	}

	// Fixed pause between batches so consecutive hops do not hammer the
	// source back to back.
	if err := s.sleep(ctx, s.batchPause); err != nil {
		return Result{}, err
	}

	if err := s.publish(ctx, job.JobID); err != nil {
		// Propagate so the current delivery is nacked and redelivered; the
		// batch itself is idempotent under re-execution.
		return Result{}, fmt.Errorf("failed to enqueue next hop: %w", err)
	}

	return Result{Stopped: false}, nil
}

func (s *Scheduler) publish(ctx context.Context, jobID string) error {
	body, err := json.Marshal(Message{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal continuation message: %w", err)
	}

	if err := s.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return err
	}

	s.logger.Debug("Continuation hop enqueued",
		slog.String("job_id", jobID),
	)
	return nil
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
