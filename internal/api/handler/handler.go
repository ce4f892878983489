package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/scoutbase/scraperd/internal/scrape/continuation"
	"github.com/scoutbase/scraperd/internal/scrape/domain"
	"github.com/scoutbase/scraperd/internal/scrape/extract"
	"github.com/scoutbase/scraperd/internal/scrape/logbuf"
	"github.com/scoutbase/scraperd/internal/scrape/storage"

	"github.com/scoutbase/scraperd/internal/api/dto"
)

// JobStore is the slice of the durable store the handlers need.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	GetActiveJob(ctx context.Context) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	PauseJob(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, lastError string) error
	DeleteJob(ctx context.Context, jobID string) error
	CountPendingTargets(ctx context.Context, kind string) (int, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Scheduler *continuation.Scheduler
	Logs      *logbuf.Service
	Extractor *extract.Extractor

	DefaultBatchSize int
	MaxBatchSize     int
	LogPollInterval  time.Duration
	LogDoneGrace     time.Duration
}

// JobHandler handles job, log-stream and extraction HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	scheduler *continuation.Scheduler
	logs      *logbuf.Service
	extractor *extract.Extractor

	defaultBatchSize int
	maxBatchSize     int
	logPollInterval  time.Duration
	logDoneGrace     time.Duration
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	pollInterval := deps.LogPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	doneGrace := deps.LogDoneGrace
	if doneGrace <= 0 {
		doneGrace = 30 * time.Second
	}
	return &JobHandler{
		logger:           deps.Logger,
		store:            deps.Store,
		scheduler:        deps.Scheduler,
		logs:             deps.Logs,
		extractor:        deps.Extractor,
		defaultBatchSize: deps.DefaultBatchSize,
		maxBatchSize:     deps.MaxBatchSize,
		logPollInterval:  pollInterval,
		logDoneGrace:     doneGrace,
	}
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:           job.JobID,
		Status:          job.Status,
		Kind:            job.Kind,
		TotalCount:      job.TotalCount,
		ProcessedCount:  job.ProcessedCount,
		SuccessCount:    job.SuccessCount,
		ErrorCount:      job.ErrorCount,
		CurrentBatch:    job.CurrentBatch,
		BatchSize:       job.BatchSize,
		RateLimitCount:  job.RateLimitCount,
		RetryCount:      job.RetryCount,
		SlowModeActive:  job.SlowModeActive,
		SpeedMultiplier: job.SpeedMultiplier,
		CreatedBy:       job.CreatedBy,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.LastError.Valid {
		out.LastError = job.LastError.String
	}
	if job.StartedAt.Valid {
		out.StartedAt = job.StartedAt.Time.Format(time.RFC3339)
	}
	if job.CompletedAt.Valid {
		out.CompletedAt = job.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}
