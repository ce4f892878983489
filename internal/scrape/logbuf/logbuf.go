// Package logbuf is the in-process log broadcast service for scrape jobs:
// an append-only line buffer per job id with a last-access watermark and
// TTL eviction. It is operator-facing telemetry only, never the system of
// record; lines are lost on process restart and that is acceptable.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Line is one timestamped log line for a job.
type Line struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

type buffer struct {
	lines          []Line
	lastAccessedAt time.Time
	evictAt        time.Time // zero unless eviction has been scheduled
}

// Service holds per-job log buffers.
type Service struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	ttl     time.Duration
	logger  *slog.Logger

	now func() time.Time // test hook
}

// New creates a Service whose buffers expire after ttl without access.
func New(ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		buffers: make(map[string]*buffer),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Initialize creates an empty buffer for the job if none exists.
func (s *Service) Initialize(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buffers[jobID]; !ok {
		s.buffers[jobID] = &buffer{lastAccessedAt: s.now()}
	}
}

// Append adds a line to the job's buffer, creating the buffer on demand.
func (s *Service) Append(jobID, message string) {
	s.AppendAt(jobID, s.now(), message)
}

// AppendAt is Append with an explicit timestamp, used when lines arrive
// from another process and carry their original time.
func (s *Service) AppendAt(jobID string, at time.Time, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[jobID]
	if !ok {
		b = &buffer{}
		s.buffers[jobID] = b
	}
	b.lines = append(b.lines, Line{At: at, Message: message})
	b.lastAccessedAt = s.now()
}

// Read returns a copy of every buffered line for the job, in append order.
// The second return value is false when no buffer exists.
func (s *Service) Read(jobID string) ([]Line, bool) {
	return s.ReadFrom(jobID, 0)
}

// ReadFrom returns buffered lines starting at offset. Used by the stream
// consumer to poll for lines appended since its last read.
func (s *Service) ReadFrom(jobID string, offset int) ([]Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[jobID]
	if !ok {
		return nil, false
	}
	b.lastAccessedAt = s.now()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(b.lines) {
		return nil, true
	}
	out := make([]Line, len(b.lines)-offset)
	copy(out, b.lines[offset:])
	return out, true
}

// Touch refreshes the job buffer's last-access watermark.
func (s *Service) Touch(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[jobID]; ok {
		b.lastAccessedAt = s.now()
	}
}

// ScheduleEviction marks the buffer for removal after the grace period,
// regardless of further access. Called when a job reaches a terminal status
// so a slow stream consumer can still drain the tail.
func (s *Service) ScheduleEviction(jobID string, grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buffers[jobID]; ok {
		b.evictAt = s.now().Add(grace)
	}
}

// EvictExpired removes buffers whose TTL has elapsed without access, or
// whose scheduled eviction time has passed. Returns the number evicted.
func (s *Service) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for jobID, b := range s.buffers {
		expired := now.Sub(b.lastAccessedAt) > s.ttl
		scheduled := !b.evictAt.IsZero() && now.After(b.evictAt)
		if expired || scheduled {
			delete(s.buffers, jobID)
			evicted++
		}
	}

	if evicted > 0 && s.logger != nil {
		s.logger.Debug("Evicted expired log buffers",
			slog.Int("count", evicted),
		)
	}
	return evicted
}

// RunJanitor evicts expired buffers at the given interval until ctx is
// cancelled.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.EvictExpired()
		}
	}
}
