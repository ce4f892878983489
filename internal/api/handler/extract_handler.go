package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scoutbase/scraperd/internal/api/dto"
	"github.com/scoutbase/scraperd/internal/scrape/extract"
)

// Extract handles POST /api/v1/extract
// Fetches and parses a single profile page without touching any job state.
func (h *JobHandler) Extract(c *gin.Context) {
	var req dto.ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	fields, err := h.extractor.Extract(c.Request.Context(), req.URL)
	if err != nil {
		var httpErr *extract.HTTPError
		switch {
		case errors.Is(err, extract.ErrThrottled):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "source is rate limiting requests"})
		case errors.Is(err, extract.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "source did not respond in time"})
		case errors.Is(err, extract.ErrNoFields):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no extractable fields in page"})
		case errors.As(err, &httpErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Extraction failed",
				slog.String("url", req.URL),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Extraction failed"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ExtractResponse{URL: req.URL, Fields: map[string]string(fields)})
}
