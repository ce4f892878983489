package logrelay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

type recordedLine struct {
	jobID   string
	at      time.Time
	message string
}

type fakeSink struct {
	lines []recordedLine
}

func (s *fakeSink) AppendAt(jobID string, at time.Time, message string) {
	s.lines = append(s.lines, recordedLine{jobID: jobID, at: at, message: message})
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestEmitter_Append(t *testing.T) {
	pub := &fakePublisher{}
	emitter := NewEmitter(pub, discard())

	emitter.Append("job-1", "batch 1 started: 30 targets")

	require.Len(t, pub.bodies, 1)

	var entry Entry
	require.NoError(t, json.Unmarshal(pub.bodies[0], &entry))
	assert.Equal(t, "job-1", entry.JobID)
	assert.Equal(t, "batch 1 started: 30 targets", entry.Message)
	assert.False(t, entry.At.IsZero())
}

func TestEmitter_AppendPublishFailureIsDropped(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	emitter := NewEmitter(pub, discard())

	// Must not panic or block; telemetry loss is acceptable.
	emitter.Append("job-1", "line")

	assert.Empty(t, pub.bodies)
}

func TestConsumer_HandleAppendsEntry(t *testing.T) {
	sink := &fakeSink{}
	consumer := NewConsumer(nil, sink, discard())

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	body, err := json.Marshal(Entry{JobID: "job-1", At: at, Message: "hello"})
	require.NoError(t, err)

	consumer.handle(amqp.Delivery{Body: body})

	require.Len(t, sink.lines, 1)
	assert.Equal(t, "job-1", sink.lines[0].jobID)
	assert.Equal(t, "hello", sink.lines[0].message)
	assert.True(t, at.Equal(sink.lines[0].at))
}

func TestConsumer_HandleDropsMalformedEntry(t *testing.T) {
	sink := &fakeSink{}
	consumer := NewConsumer(nil, sink, discard())

	consumer.handle(amqp.Delivery{Body: []byte("not json")})
	consumer.handle(amqp.Delivery{Body: []byte(`{"message":"no job id"}`)})

	assert.Empty(t, sink.lines)
}

func TestConsumer_RunStopsOnContextCancel(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	consumer := NewConsumer(deliveries, &fakeSink{}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := consumer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumer_RunStopsOnClosedChannel(t *testing.T) {
	deliveries := make(chan amqp.Delivery)
	close(deliveries)
	consumer := NewConsumer(deliveries, &fakeSink{}, discard())

	err := consumer.Run(context.Background())
	assert.NoError(t, err)
}
