package worker

import (
	"context"
	"log/slog"
	"time"
)

// runLocal waits for a free slot and runs the job
func (w *Worker) runLocal(ctx context.Context, jobID string) {
	defer w.wg.Done()

	if w.slots != nil {
		select {
		case w.slots <- struct{}{}:
			defer func() { <-w.slots }()
		case <-w.stopChan:
			w.logger.Warn("Worker stopped before job started, leaving it pending",
				slog.String("job_id", jobID),
			)
			return
		}
	}

	w.processJob(ctx, jobID)
}

// processJob runs a single job and logs how long it took
func (w *Worker) processJob(ctx context.Context, jobID string) {
	w.logger.Info("Processing job",
		slog.String("job_id", jobID),
		slog.String("worker_id", w.workerID),
	)

	start := time.Now()
	w.runner.Run(ctx, jobID)

	w.logger.Info("Job processing finished",
		slog.String("job_id", jobID),
		slog.Duration("duration", time.Since(start)),
	)
}
