package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scoutbase/scraperd/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scrape-api-service",
		})
	})

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/scrape-jobs")
		{
			// POST /api/v1/scrape-jobs - Start a new scrape job
			jobs.POST("", jobHandler.StartJob)

			// GET /api/v1/scrape-jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/scrape-jobs/active - Get the job holding the slot
			jobs.GET("/active", jobHandler.GetActiveJob)

			// GET /api/v1/scrape-jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/scrape-jobs/:job_id/pause - Pause after the current batch
			jobs.POST("/:job_id/pause", jobHandler.PauseJob)

			// POST /api/v1/scrape-jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// DELETE /api/v1/scrape-jobs/:job_id - Delete a job and free the slot
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)

			// GET /api/v1/scrape-jobs/:job_id/logs - Snapshot of the log buffer
			jobs.GET("/:job_id/logs", jobHandler.GetJobLogs)

			// GET /api/v1/scrape-jobs/:job_id/logs/stream - Live log stream (SSE)
			jobs.GET("/:job_id/logs/stream", jobHandler.StreamJobLogs)
		}

		// POST /api/v1/extract - Ad hoc single-page extraction
		v1.POST("/extract", jobHandler.Extract)
	}

	return r
}
