package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/scoutbase/scraperd/internal/scrape/continuation"
)

// setupConsumer configures QoS and returns the delivery channel. Prefetch
// stays at 1: hops must not overlap.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	if err := channel.Qos(w.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return deliveries, nil
}

// consumeLoop handles continuation deliveries until ctx is cancelled or the
// delivery channel closes.
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Consumer stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			w.handleDelivery(ctx, delivery)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg continuation.Message
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		w.logger.Error("Failed to parse continuation message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// Malformed messages are dropped, not requeued.
		w.nack(delivery, false)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		w.logger.Error("Invalid job_id in continuation message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		w.nack(delivery, false)
		return
	}

	result, err := w.runHop(ctx, msg.JobID)
	if err != nil {
		// The hop could not run to a decision (e.g. the next hop could not
		// be enqueued). Requeue so the broker redelivers it; the batch is
		// idempotent under re-execution.
		w.logger.Error("Continuation hop failed, requeueing",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		w.nack(delivery, true)
		return
	}

	if result.Stopped {
		w.logger.Info("Continuation chain stopped",
			slog.String("job_id", msg.JobID),
			slog.String("reason", result.Reason),
		)
	}

	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK continuation message",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
	}
}
