package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ModeLocal runs every submitted job on its own goroutine in this process
	ModeLocal = "local"
	// ModeRabbitMQ routes job ids through a durable queue consumed by a bounded pool
	ModeRabbitMQ = "rabbitmq"
)

// ErrStopped is returned by Submit once Stop has been called
var ErrStopped = errors.New("worker is stopped")

// JobRunner executes a created job to completion
type JobRunner interface {
	Run(ctx context.Context, jobID string)
}

// Queue is the message broker used in rabbitmq mode
type Queue interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// JobMessage is the queue payload that asks a worker to run a job
type JobMessage struct {
	JobID string `json:"job_id"`

	delivery amqp.Delivery
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Runner        JobRunner
	Queue         Queue
	Mode          string
	Concurrency   int
	PrefetchCount int
}

// Worker decouples job creation from job execution
type Worker struct {
	logger        *slog.Logger
	runner        JobRunner
	queue         Queue
	mode          string
	concurrency   int
	prefetchCount int
	workerID      string

	// slots bounds concurrent local runs; nil means unbounded
	slots    chan struct{}
	jobsChan chan *JobMessage

	mu       sync.Mutex
	stopped  bool
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeLocal
	}

	w := &Worker{
		logger:        cfg.Logger.With(slog.String("component", "worker")),
		runner:        cfg.Runner,
		queue:         cfg.Queue,
		mode:          mode,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		workerID:      "worker-" + uuid.NewString()[:8],
		jobsChan:      make(chan *JobMessage),
		stopChan:      make(chan struct{}),
	}

	switch mode {
	case ModeLocal:
		if w.concurrency > 0 {
			w.slots = make(chan struct{}, w.concurrency)
		}
	case ModeRabbitMQ:
		if w.queue == nil {
			return nil, fmt.Errorf("worker mode %q requires a queue", mode)
		}
		if w.concurrency <= 0 {
			w.concurrency = 1
		}
		if w.prefetchCount <= 0 {
			w.prefetchCount = w.concurrency
		}
	default:
		return nil, fmt.Errorf("unknown worker mode %q", mode)
	}

	return w, nil
}

// Mode returns the dispatch mode in use
func (w *Worker) Mode() string {
	return w.mode
}

// Submit schedules a created job for execution and returns without waiting for it.
// The job never observes cancellation of ctx.
func (w *Worker) Submit(ctx context.Context, jobID string) error {
	if w.mode == ModeRabbitMQ {
		if w.isStopped() {
			return ErrStopped
		}
		return w.publish(ctx, jobID)
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go w.runLocal(context.WithoutCancel(ctx), jobID)
	return nil
}

func (w *Worker) publish(ctx context.Context, jobID string) error {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := w.queue.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	w.logger.Debug("Job enqueued", slog.String("job_id", jobID))
	return nil
}

// Start begins processing jobs and blocks until ctx is canceled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.String("mode", w.mode),
		slog.Int("concurrency", w.concurrency),
	)

	if w.mode == ModeLocal {
		select {
		case <-ctx.Done():
		case <-w.stopChan:
		}
		return nil
	}

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop refuses new submissions and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")

	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopChan)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}
