// Package logrelay moves per-job log lines from the worker to the API
// service over a fanout exchange. The buffer stays in-process on the API
// side; the relay only replaces the in-memory handoff that a single-process
// deployment would have. Delivery is best-effort: a dropped line costs
// observability, never correctness.
package logrelay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Entry is one log line on the wire.
type Entry struct {
	JobID   string    `json:"job_id"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Publisher publishes one message to the logs exchange.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Emitter sends log lines to the logs exchange. It satisfies the log sink
// interfaces of the batch and continuation packages.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewEmitter creates an Emitter.
func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		timeout:   2 * time.Second,
	}
}

// Initialize is a no-op: buffers live on the consuming side and are created
// on demand when the first line arrives.
func (e *Emitter) Initialize(jobID string) {}

// Append publishes one line. Failures are logged and dropped.
func (e *Emitter) Append(jobID, message string) {
	body, err := json.Marshal(Entry{JobID: jobID, At: time.Now(), Message: message})
	if err != nil {
		e.logger.Warn("Failed to marshal log line",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.publisher.Publish(ctx, body, "application/json"); err != nil {
		e.logger.Warn("Failed to relay log line",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// Sink receives relayed lines on the consuming side.
type Sink interface {
	AppendAt(jobID string, at time.Time, message string)
}

// Consumer drains the logs queue into a Sink.
type Consumer struct {
	deliveries <-chan amqp.Delivery
	sink       Sink
	logger     *slog.Logger
}

// NewConsumer creates a Consumer over an established delivery channel.
func NewConsumer(deliveries <-chan amqp.Delivery, sink Sink, logger *slog.Logger) *Consumer {
	return &Consumer{
		deliveries: deliveries,
		sink:       sink,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-c.deliveries:
			if !ok {
				c.logger.Warn("Log relay delivery channel closed")
				return nil
			}
			c.handle(delivery)
		}
	}
}

// handle appends one relayed line. Malformed entries are acked and dropped;
// there is nothing to gain from redelivering telemetry.
func (c *Consumer) handle(delivery amqp.Delivery) {
	var entry Entry
	if err := json.Unmarshal(delivery.Body, &entry); err != nil || entry.JobID == "" {
		c.logger.Warn("Dropping malformed log relay entry",
			slog.Any("error", err),
		)
	} else {
		c.sink.AppendAt(entry.JobID, entry.At, entry.Message)
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Warn("Failed to ack log relay entry",
			slog.Any("error", err),
		)
	}
}
