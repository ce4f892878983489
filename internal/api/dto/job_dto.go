package dto

// StartJobRequest is the body for POST /api/v1/scrape-jobs. All fields are
// optional: kind defaults to "all", batch_size to the configured default.
type StartJobRequest struct {
	Kind      string `json:"kind"`
	BatchSize int    `json:"batch_size"`
	CreatedBy string `json:"created_by"`
}

// ListJobsRequest holds list query parameters.
type ListJobsRequest struct {
	Status   string `form:"status"`
	Kind     string `form:"kind"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs plus the cursor for the next page.
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the wire shape of a scrape job.
type JobDTO struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	Kind            string  `json:"kind"`
	TotalCount      int     `json:"total_count"`
	ProcessedCount  int     `json:"processed_count"`
	SuccessCount    int     `json:"success_count"`
	ErrorCount      int     `json:"error_count"`
	CurrentBatch    int     `json:"current_batch"`
	BatchSize       int     `json:"batch_size"`
	RateLimitCount  int     `json:"rate_limit_count"`
	RetryCount      int     `json:"retry_count"`
	SlowModeActive  bool    `json:"slow_mode_active"`
	SpeedMultiplier float64 `json:"speed_multiplier"`
	LastError       string  `json:"last_error,omitempty"`
	CreatedBy       string  `json:"created_by"`
	CreatedAt       string  `json:"created_at"`
	StartedAt       string  `json:"started_at,omitempty"`
	CompletedAt     string  `json:"completed_at,omitempty"`
	UpdatedAt       string  `json:"updated_at"`
}

// ExtractRequest is the body for POST /api/v1/extract.
type ExtractRequest struct {
	URL string `json:"url" binding:"required"`
}

// ExtractResponse carries the fields of one ad hoc extraction.
type ExtractResponse struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}
