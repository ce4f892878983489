package handler

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scoutbase/scraperd/internal/api/dto"
	"github.com/scoutbase/scraperd/internal/scrape/domain"
	"github.com/scoutbase/scraperd/internal/scrape/storage"
)

// StartJob handles POST /api/v1/scrape-jobs
// Creates the job record and enqueues the first continuation hop.
func (h *JobHandler) StartJob(c *gin.Context) {
	var req dto.StartJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Error("Invalid request body", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	if req.Kind == "" {
		req.Kind = domain.KindAll
	}
	if !domain.ValidKind(req.Kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be player, team or all"})
		return
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = h.defaultBatchSize
	}
	if batchSize > h.maxBatchSize {
		batchSize = h.maxBatchSize
	}

	total, err := h.store.CountPendingTargets(c.Request.Context(), req.Kind)
	if err != nil {
		h.logger.Error("Failed to count pending targets", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count pending targets"})
		return
	}
	if total == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": domain.ErrNoPendingTargets.Error()})
		return
	}

	now := time.Now()
	job := &domain.Job{
		JobID:           uuid.New().String(),
		Status:          domain.JobStatusRunning,
		Kind:            req.Kind,
		TotalCount:      total,
		BatchSize:       batchSize,
		SpeedMultiplier: 1.0,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       now,
		StartedAt:       sql.NullTime{Time: now, Valid: true},
		UpdatedAt:       now,
	}

	if err := h.store.CreateJob(c.Request.Context(), job); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	if err := h.scheduler.Start(c.Request.Context(), job.JobID); err != nil {
		// The record exists but the chain never started; fail it so the
		// slot is not silently wedged in RUNNING.
		h.logger.Error("Failed to enqueue first batch",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		if failErr := h.store.FailJob(c.Request.Context(), job.JobID, "failed to enqueue first batch"); failErr != nil {
			h.logger.Error("Failed to mark job as failed",
				slog.String("job_id", job.JobID),
				slog.String("error", failErr.Error()),
			)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start job"})
		return
	}

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// GetJob handles GET /api/v1/scrape-jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// GetActiveJob handles GET /api/v1/scrape-jobs/active
// Returns the job currently occupying the slot, or 404 when it is free.
func (h *JobHandler) GetActiveJob(c *gin.Context) {
	job, err := h.store.GetActiveJob(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get active job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get active job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active job"})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/scrape-jobs
// Lists jobs newest-first with keyset pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		Status:   req.Status,
		Kind:     req.Kind,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// PauseJob handles POST /api/v1/scrape-jobs/:job_id/pause
// The in-flight batch finishes; the next continuation hop observes the
// paused status and halts the chain.
func (h *JobHandler) PauseJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.store.PauseJob(c.Request.Context(), jobID); err != nil {
		h.transitionError(c, jobID, err)
		return
	}

	h.logs.Append(jobID, "pause requested by operator")
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": domain.JobStatusPaused})
}

// CancelJob handles POST /api/v1/scrape-jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.store.CancelJob(c.Request.Context(), jobID); err != nil {
		h.transitionError(c, jobID, err)
		return
	}

	h.logs.Append(jobID, "cancel requested by operator")
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": domain.JobStatusCanceled})
}

// DeleteJob handles DELETE /api/v1/scrape-jobs/:job_id
// Removing a quiescent or terminal job frees the single job slot.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if err := h.store.DeleteJob(c.Request.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrJobRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "pause or cancel the job before deleting it"})
		default:
			h.logger.Error("Failed to delete job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete job"})
		}
		return
	}

	h.logs.ScheduleEviction(jobID, 0)
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) transitionError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to update job status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update job status"})
	}
}
