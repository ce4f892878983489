// Package extract fetches one external profile page and turns it into
// ProfileFields. The batch processor and the ad hoc single-item endpoint
// share this primitive so throttle detection lives in exactly one place.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
)

var (
	// ErrThrottled indicates the source signalled that requests arrive too
	// fast: HTTP 429 or a recognized block page.
	ErrThrottled = errors.New("source throttled the request")

	// ErrTimeout indicates the fetch exceeded the hard request timeout.
	ErrTimeout = errors.New("fetch timed out")

	// ErrNoFields indicates the page was fetched but yielded no profile
	// fields.
	ErrNoFields = errors.New("no profile fields found")
)

// HTTPError is a non-2xx response that is not a throttle signal.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Parser turns a raw response body into profile fields. Site-specific
// markup rules live behind this interface; the default parser reads a flat
// JSON payload.
type Parser interface {
	Parse(raw []byte) (domain.ProfileFields, error)
}

// JSONParser parses a flat JSON object, stringifying scalar values and
// skipping nested structures.
type JSONParser struct{}

func (JSONParser) Parse(raw []byte) (domain.ProfileFields, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse profile payload: %w", err)
	}

	fields := make(domain.ProfileFields)
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			fields[key] = v
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			fields[key] = fmt.Sprintf("%t", v)
		}
	}
	return fields, nil
}

// Config holds extractor settings.
type Config struct {
	UserAgent string
	// Timeout is the hard per-request budget.
	Timeout time.Duration
	// BlockMarkers are substrings whose presence in a 200 response body
	// marks it as a block page rather than a profile.
	BlockMarkers []string
	// MaxBodySize caps how much of the response body is read.
	MaxBodySize int64
}

// Extractor performs the fetch+parse for a single profile URL.
type Extractor struct {
	cfg    Config
	client *http.Client
	parser Parser
	logger *slog.Logger
}

// New creates an Extractor. A nil parser defaults to JSONParser.
func New(cfg Config, parser Parser, logger *slog.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 2 << 20 // 2 MiB
	}
	if parser == nil {
		parser = JSONParser{}
	}
	return &Extractor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		parser: parser,
		logger: logger,
	}
}

// Extract fetches url and parses it into profile fields. It returns
// ErrThrottled on a rate-limit signal, ErrTimeout on a timed-out fetch,
// *HTTPError on other non-2xx responses and ErrNoFields when parsing
// yields nothing. No retries: retry policy belongs to the batch chain.
func (e *Extractor) Extract(ctx context.Context, url string) (domain.ProfileFields, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status 429 from %s", ErrThrottled, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if marker := e.blockMarker(body); marker != "" {
		e.logger.Warn("Block page detected",
			slog.String("url", url),
			slog.String("marker", marker),
		)
		return nil, fmt.Errorf("%w: block page matched %q", ErrThrottled, marker)
	}

	fields, err := e.parser.Parse(body)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFields, url)
	}

	return fields, nil
}

func (e *Extractor) blockMarker(body []byte) string {
	haystack := strings.ToLower(string(body))
	for _, marker := range e.cfg.BlockMarkers {
		if strings.Contains(haystack, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
