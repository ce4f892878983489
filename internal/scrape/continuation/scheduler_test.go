package continuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutbase/scraperd/internal/scrape/domain"
	"github.com/scoutbase/scraperd/internal/scrape/logbuf"
)

type mockStore struct {
	job       *domain.Job
	getErr    error
	completed bool
	failed    bool
}

func (m *mockStore) GetActiveJob(_ context.Context) (*domain.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.job == nil {
		return nil, nil
	}
	cp := *m.job
	return &cp, nil
}

func (m *mockStore) CompleteJob(_ context.Context, jobID string) error {
	m.completed = true
	m.job.Status = domain.JobStatusCompleted
	return nil
}

func (m *mockStore) FailJob(_ context.Context, jobID, lastError string) error {
	m.failed = true
	m.job.Status = domain.JobStatusFailed
	return nil
}

type mockRunner struct {
	completed bool
	err       error
	calls     int
}

func (m *mockRunner) RunBatch(_ context.Context, jobID string) (bool, error) {
	m.calls++
	return m.completed, m.err
}

type mockPublisher struct {
	published [][]byte
	err       error
}

func (m *mockPublisher) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, body)
	return nil
}

func newScheduler(store *mockStore, runner *mockRunner, pub *mockPublisher) *Scheduler {
	s := New(store, runner, pub, logbuf.New(time.Minute, nil), 10*time.Millisecond, slog.New(slog.DiscardHandler))
	s.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return s
}

func runningJob() *domain.Job {
	return &domain.Job{
		JobID:          "job-1",
		Status:         domain.JobStatusRunning,
		TotalCount:     100,
		ProcessedCount: 30,
	}
}

func TestAdvance_NoActiveJob(t *testing.T) {
	s := newScheduler(&mockStore{}, &mockRunner{}, &mockPublisher{})

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "no active job", res.Reason)
}

func TestAdvance_PausedJobHaltsWithoutMutation(t *testing.T) {
	store := &mockStore{job: runningJob()}
	store.job.Status = domain.JobStatusPaused
	runner := &mockRunner{}
	pub := &mockPublisher{}
	s := newScheduler(store, runner, pub)

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, domain.JobStatusPaused, res.Reason)
	assert.Zero(t, runner.calls)
	assert.Empty(t, pub.published)
	assert.False(t, store.completed)
	assert.False(t, store.failed)
}

func TestAdvance_CanceledJobHalts(t *testing.T) {
	store := &mockStore{job: runningJob()}
	store.job.Status = domain.JobStatusCanceled
	runner := &mockRunner{}
	s := newScheduler(store, runner, &mockPublisher{})

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, domain.JobStatusCanceled, res.Reason)
	assert.Zero(t, runner.calls)
}

func TestAdvance_AlreadyDoneCompletesWithoutBatch(t *testing.T) {
	store := &mockStore{job: runningJob()}
	store.job.ProcessedCount = store.job.TotalCount
	runner := &mockRunner{}
	s := newScheduler(store, runner, &mockPublisher{})

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "completed", res.Reason)
	assert.True(t, store.completed)
	assert.Zero(t, runner.calls)
}

func TestAdvance_EnqueuesNextHop(t *testing.T) {
	store := &mockStore{job: runningJob()}
	runner := &mockRunner{}
	pub := &mockPublisher{}
	s := newScheduler(store, runner, pub)

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.Equal(t, 1, runner.calls)

	require.Len(t, pub.published, 1)
	var msg Message
	require.NoError(t, json.Unmarshal(pub.published[0], &msg))
	assert.Equal(t, "job-1", msg.JobID)
}

func TestAdvance_BatchCompletionStopsChain(t *testing.T) {
	store := &mockStore{job: runningJob()}
	runner := &mockRunner{completed: true}
	pub := &mockPublisher{}
	s := newScheduler(store, runner, pub)

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "completed", res.Reason)
	assert.Empty(t, pub.published)
}

func TestAdvance_StaleHopIsDropped(t *testing.T) {
	store := &mockStore{job: runningJob()}
	runner := &mockRunner{}
	pub := &mockPublisher{}
	s := newScheduler(store, runner, pub)

	// A hop enqueued for a job that was since deleted and replaced must not
	// drive batches for the job now holding the slot.
	res, err := s.Advance(context.Background(), "job-0")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "job no longer active", res.Reason)
	assert.Zero(t, runner.calls)
	assert.Empty(t, pub.published)
	assert.False(t, store.completed)
	assert.False(t, store.failed)
}

func TestAdvance_InterruptedBatchRequeuesHop(t *testing.T) {
	store := &mockStore{job: runningJob()}
	runner := &mockRunner{err: fmt.Errorf("batch interrupted: %w", context.Canceled)}
	pub := &mockPublisher{}
	s := newScheduler(store, runner, pub)

	// A batch cut short by shutdown or the hop deadline is not a failure:
	// the error must propagate so the delivery is nacked and redelivered,
	// and the job record stays untouched.
	_, err := s.Advance(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, store.failed)
	assert.Equal(t, domain.JobStatusRunning, store.job.Status)
	assert.Empty(t, pub.published)
}

func TestAdvance_BatchErrorStopsChain(t *testing.T) {
	store := &mockStore{job: runningJob()}
	runner := &mockRunner{err: errors.New("storage unavailable")}
	pub := &mockPublisher{}
	s := newScheduler(store, runner, pub)

	res, err := s.Advance(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, "failed", res.Reason)
	assert.Empty(t, pub.published)
}

func TestAdvance_PublishFailurePropagates(t *testing.T) {
	store := &mockStore{job: runningJob()}
	runner := &mockRunner{}
	pub := &mockPublisher{err: errors.New("broker down")}
	s := newScheduler(store, runner, pub)

	// The error must reach the consumer so the delivery is redelivered and
	// the hop retried.
	_, err := s.Advance(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue next hop")
}

func TestStart_PublishesFirstHop(t *testing.T) {
	pub := &mockPublisher{}
	s := newScheduler(&mockStore{}, &mockRunner{}, pub)

	require.NoError(t, s.Start(context.Background(), "job-9"))
	require.Len(t, pub.published, 1)

	var msg Message
	require.NoError(t, json.Unmarshal(pub.published[0], &msg))
	assert.Equal(t, "job-9", msg.JobID)
}
