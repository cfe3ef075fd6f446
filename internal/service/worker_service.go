package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	// transientRetryPause delays the requeue of a transient failure.
	transientRetryPause = 2 * time.Second
)

// OutcomeWorker consumes escalation and downstream queues and runs each task.
type OutcomeWorker struct {
	consumer    queue.Consumer
	handler     OutcomeTaskHandler
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewOutcomeWorker(
	consumer queue.Consumer,
	handler OutcomeTaskHandler,
	concurrency int,
	logger *zap.Logger,
) (*OutcomeWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("outcome task handler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OutcomeWorker{
		consumer:    consumer,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
		sleep:       sleepWithContext,
	}, nil
}

func (w *OutcomeWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes the task queues until context cancellation. Every queue gets
// at least one consumer.
func (w *OutcomeWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}
	workers := w.concurrency
	if workers < len(queueNames) {
		workers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := w.consumer.Consume(groupCtx, queueName, w.processMessage)
			if err != nil {
				w.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *OutcomeWorker) processMessage(ctx context.Context, msg queue.OutcomeMessage) error {
	task := msg.Task()
	kind := task.Kind.String()

	w.metrics.IncWorkerInFlight(kind)
	defer w.metrics.DecWorkerInFlight(kind)

	err := deadLetterUnlessTransient(w.handler.Handle(ctx, task))
	if err == nil {
		return nil
	}

	logger := observability.WithContextLogger(w.logger, observability.WithActivityID(ctx, task.ActivityID))
	logger.Warn("outcome task failed",
		zap.String("task", kind),
		zap.String("issuanceId", task.IssuanceID),
		zap.Error(err),
	)
	if !isDeadLetter(err) {
		_ = w.sleep(ctx, transientRetryPause)
	}
	return err
}
