// Package worker consumes continuation messages and executes one batch hop
// per delivery. Deliveries are handled strictly one at a time (QoS prefetch
// of 1): the chain is sequential, so there is never more than one in-flight
// hop per job.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/scoutbase/scraperd/internal/scrape/continuation"
	"github.com/scoutbase/scraperd/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Scheduler     *continuation.Scheduler
	BatchTimeout  time.Duration
	PrefetchCount int
}

// Worker drives the continuation chain from the queue.
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	scheduler    *continuation.Scheduler
	batchTimeout time.Duration
	prefetch     int
	workerID     string
	done         chan struct{}
}

// New creates a Worker with a unique consumer id.
func New(cfg *Config) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		scheduler:    cfg.Scheduler,
		batchTimeout: cfg.BatchTimeout,
		prefetch:     prefetch,
		workerID:     fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		done:         make(chan struct{}),
	}
}

// Start consumes continuation messages until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.logger.Info("Worker started",
		slog.String("worker_id", w.workerID),
	)

	w.consumeLoop(ctx, deliveries)
	close(w.done)
	return nil
}

// Stop blocks until the consume loop has finished its in-flight delivery.
// Cancel the Start context first.
func (w *Worker) Stop() {
	<-w.done
}

// runHop executes one Advance call under the batch time budget.
func (w *Worker) runHop(ctx context.Context, jobID string) (continuation.Result, error) {
	hopCtx := ctx
	if w.batchTimeout > 0 {
		var cancel context.CancelFunc
		hopCtx, cancel = context.WithTimeout(ctx, w.batchTimeout)
		defer cancel()
	}

	w.logger.Info("Continuation hop received",
		slog.String("worker_id", w.workerID),
		slog.String("job_id", jobID),
	)

	return w.scheduler.Advance(hopCtx, jobID)
}
