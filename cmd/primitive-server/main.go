package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/primitive-orchestrator/internal/api/handler"
	"github.com/cuongbtq/primitive-orchestrator/internal/api/router"
	"github.com/cuongbtq/primitive-orchestrator/internal/config"
	"github.com/cuongbtq/primitive-orchestrator/internal/notifier"
	"github.com/cuongbtq/primitive-orchestrator/internal/runner"
	"github.com/cuongbtq/primitive-orchestrator/internal/storage"
	"github.com/cuongbtq/primitive-orchestrator/internal/worker"
	"github.com/cuongbtq/primitive-orchestrator/shared/database"
	"github.com/cuongbtq/primitive-orchestrator/shared/logger"
	"github.com/cuongbtq/primitive-orchestrator/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("PRIMITIVE_CONFIG_PATH")
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting primitive orchestrator",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("data_dir", cfg.Storage.DataDir),
	)

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.UploadsDir(), cfg.Storage.JobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Initialize database client and job store
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database ready", slog.String("driver", dbClient.Driver()))

	events := notifier.New(appLogger.Logger, cfg.Runner.NotifySendTimeout)

	jobRunner := runner.New(&runner.Config{
		Logger:     appLogger.Logger,
		Store:      store,
		Notifier:   events,
		JobsDir:    cfg.Storage.JobsDir(),
		Executable: cfg.Runner.Executable,
	})

	// RabbitMQ is only needed when jobs are dispatched through the queue
	var rabbitClient *rabbitmq.Client
	var queue worker.Queue
	if cfg.Worker.Mode == worker.ModeRabbitMQ {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		queue = rabbitClient

		appLogger.Info("RabbitMQ connection established")
	}

	workerInstance, err := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Runner:        jobRunner,
		Queue:         queue,
		Mode:          cfg.Worker.Mode,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- fmt.Errorf("worker failed: %w", err)
		}
	}()

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:         appLogger.Logger,
		Runner:         jobRunner,
		Store:          store,
		Worker:         workerInstance,
		Notifier:       events,
		DB:             dbClient,
		UploadsDir:     cfg.Storage.UploadsDir(),
		MaxUploadBytes: cfg.Storage.MaxUploadBytes(),
		CORSOrigins:    cfg.Server.CORSOrigins,
		ServeStatic:    cfg.Server.ServeStatic,
		StaticDir:      cfg.Server.StaticDir,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	appLogger.Info("HTTP server is running",
		slog.String("address", srv.Addr),
		slog.String("worker_mode", workerInstance.Mode()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Service error, shutting down", slog.Any("error", runErr))
	}

	// Stop accepting requests first so no new jobs are submitted
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	cancel()
	stopWorker(workerInstance, cfg.Worker.ShutdownTimeout, appLogger.Logger)

	appLogger.Info("Shutdown complete")
	return runErr
}

// stopWorker waits for running jobs up to timeout
func stopWorker(w *worker.Worker, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Worker shutdown timeout exceeded, abandoning running jobs",
			slog.Duration("timeout", timeout),
		)
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   cfg.TimeFormat,
	})
}

// initDatabase initializes the job store's database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Router configured",
		slog.Any("cors_origins", cfg.Server.CORSOrigins),
		slog.Bool("serve_static", cfg.Server.ServeStatic),
	)

	return router.SetupRouter(deps)
}
