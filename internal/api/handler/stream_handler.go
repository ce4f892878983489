package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
)

// GetJobLogs handles GET /api/v1/scrape-jobs/:job_id/logs
// Returns the full in-memory log buffer as a snapshot.
func (h *JobHandler) GetJobLogs(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	lines, ok := h.logs.Read(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no logs for job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "lines": lines})
}

// StreamJobLogs handles GET /api/v1/scrape-jobs/:job_id/logs/stream
// Streams log lines over SSE: the backlog first, then new lines as the
// worker appends them. When the job reaches a terminal status the stream
// sends a final "done" event and the buffer is scheduled for eviction.
func (h *JobHandler) StreamJobLogs(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if _, ok := h.logs.Read(jobID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no logs for job"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// The stream outlives the server's write timeout, so lift the
	// per-request deadline for this response.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn("Could not clear write deadline for log stream",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(h.logPollInterval)
	defer ticker.Stop()

	offset := 0
	flush := func() bool {
		lines, ok := h.logs.ReadFrom(jobID, offset)
		if !ok {
			// Buffer evicted mid-stream, nothing more will arrive.
			return false
		}
		for _, line := range lines {
			c.SSEvent("log", line)
		}
		offset += len(lines)
		c.Writer.Flush()
		return true
	}

	if !flush() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.logs.Touch(jobID)
			if !flush() {
				return
			}

			job, err := h.store.GetJobByID(ctx, jobID)
			if err != nil {
				if errors.Is(err, domain.ErrJobNotFound) {
					c.SSEvent("done", gin.H{"job_id": jobID})
					c.Writer.Flush()
					return
				}
				h.logger.Error("Failed to poll job status during stream",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if domain.IsTerminal(job.Status) {
				flush()
				c.SSEvent("done", gin.H{"job_id": jobID, "status": job.Status})
				c.Writer.Flush()
				h.logs.ScheduleEviction(jobID, h.logDoneGrace)
				return
			}
		}
	}
}
