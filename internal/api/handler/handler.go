package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
	"github.com/cuongbtq/primitive-orchestrator/internal/notifier"
	"github.com/gorilla/websocket"
)

// JobCreator allocates and persists new jobs
type JobCreator interface {
	Create(ctx context.Context, inputPath string, params domain.Params) (*domain.Job, error)
	Abandon(ctx context.Context, jobID string, reason error)
}

// JobReader reads persisted jobs
type JobReader interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, limit, offset int) ([]domain.JobSummary, error)
}

// Dispatcher schedules created jobs for execution
type Dispatcher interface {
	Submit(ctx context.Context, jobID string) error
}

// Subscriptions registers live observers of a job
type Subscriptions interface {
	Subscribe(jobID string, sub notifier.Subscriber)
	Unsubscribe(jobID string, sub notifier.Subscriber)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Runner         JobCreator
	Store          JobReader
	Worker         Dispatcher
	Notifier       Subscriptions
	DB             HealthChecker
	UploadsDir     string
	MaxUploadBytes int64
	CORSOrigins    []string
	ServeStatic    bool
	StaticDir      string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	runner         JobCreator
	store          JobReader
	worker         Dispatcher
	notifier       Subscriptions
	uploadsDir     string
	maxUploadBytes int64
	upgrader       websocket.Upgrader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger.With(slog.String("component", "api")),
		runner:         deps.Runner,
		store:          deps.Store,
		worker:         deps.Worker,
		notifier:       deps.Notifier,
		uploadsDir:     deps.UploadsDir,
		maxUploadBytes: deps.MaxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(deps.CORSOrigins),
		},
	}
}
