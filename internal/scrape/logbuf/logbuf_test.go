package logbuf

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(ttl time.Duration) (*Service, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := New(ttl, nil)
	s.now = clock.Now
	return s, clock
}

func TestAppendAndRead_Ordered(t *testing.T) {
	s, _ := newService(time.Minute)

	for i := 0; i < 5; i++ {
		s.Append("job-1", fmt.Sprintf("line %d", i))
	}

	lines, ok := s.Read("job-1")
	require.True(t, ok)
	require.Len(t, lines, 5)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("line %d", i), line.Message)
	}
}

func TestRead_MissingBuffer(t *testing.T) {
	s, _ := newService(time.Minute)

	lines, ok := s.Read("nope")
	assert.False(t, ok)
	assert.Nil(t, lines)
}

func TestReadFrom_Offset(t *testing.T) {
	s, _ := newService(time.Minute)

	s.Append("job-1", "a")
	s.Append("job-1", "b")
	s.Append("job-1", "c")

	lines, ok := s.ReadFrom("job-1", 1)
	require.True(t, ok)
	require.Len(t, lines, 2)
	assert.Equal(t, "b", lines[0].Message)
	assert.Equal(t, "c", lines[1].Message)

	// Offset past the end is an empty read, not a missing buffer.
	lines, ok = s.ReadFrom("job-1", 10)
	assert.True(t, ok)
	assert.Empty(t, lines)
}

func TestEvictExpired_TTL(t *testing.T) {
	s, clock := newService(time.Minute)

	s.Append("job-1", "hello")
	clock.Advance(2 * time.Minute)

	evicted := s.EvictExpired()
	assert.Equal(t, 1, evicted)

	_, ok := s.Read("job-1")
	assert.False(t, ok)
}

func TestTouch_KeepsBufferAlive(t *testing.T) {
	s, clock := newService(time.Minute)

	s.Append("job-1", "hello")
	clock.Advance(45 * time.Second)
	s.Touch("job-1")
	clock.Advance(45 * time.Second)

	assert.Equal(t, 0, s.EvictExpired())
	_, ok := s.Read("job-1")
	assert.True(t, ok)
}

func TestScheduleEviction_GracePeriod(t *testing.T) {
	s, clock := newService(time.Hour)

	s.Append("job-1", "done")
	s.ScheduleEviction("job-1", 30*time.Second)

	// Still available within the grace period even with active polling.
	clock.Advance(10 * time.Second)
	s.Touch("job-1")
	assert.Equal(t, 0, s.EvictExpired())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, s.EvictExpired())
	_, ok := s.Read("job-1")
	assert.False(t, ok)
}

func TestInitialize_Idempotent(t *testing.T) {
	s, _ := newService(time.Minute)

	s.Initialize("job-1")
	s.Append("job-1", "kept")
	s.Initialize("job-1")

	lines, ok := s.Read("job-1")
	require.True(t, ok)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0].Message)
}
