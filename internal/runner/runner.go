package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
	"github.com/google/uuid"
)

// Store is the subset of job persistence the runner needs
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
}

// Publisher fans out job events to live observers
type Publisher interface {
	Broadcast(ctx context.Context, jobID string, event domain.Event)
}

// Config holds runner dependencies
type Config struct {
	Logger     *slog.Logger
	Store      Store
	Notifier   Publisher
	JobsDir    string
	Executable string
}

// Runner creates jobs and drives the external executable for each of them
type Runner struct {
	logger     *slog.Logger
	store      Store
	notifier   Publisher
	jobsDir    string
	executable string
}

// New creates a runner. The executable is resolved once against PATH.
func New(cfg *Config) *Runner {
	return &Runner{
		logger:     cfg.Logger.With(slog.String("component", "runner")),
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		jobsDir:    cfg.JobsDir,
		executable: ResolveExecutable(cfg.Executable),
	}
}

// Create allocates a job with its own output directory and persists it as pending.
// It never starts the subprocess.
func (r *Runner) Create(ctx context.Context, inputPath string, params domain.Params) (*domain.Job, error) {
	id := newJobID()

	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input path: %w", err)
	}

	encoded, err := domain.EncodeParams(params)
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(r.jobsDir, id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	job := &domain.Job{
		ID:         id,
		Status:     domain.JobStatusPending,
		InputPath:  absInput,
		OutputDir:  outputDir,
		ParamsJSON: encoded,
	}

	if err := r.store.Create(ctx, job); err != nil {
		_ = os.RemoveAll(outputDir)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	r.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("input_path", job.InputPath),
		slog.String("output_dir", job.OutputDir),
	)

	return job, nil
}

// Run executes a pending job to completion. It never returns an error:
// every failure is recorded on the job and published as an error event.
func (r *Runner) Run(ctx context.Context, jobID string) {
	logger := r.logger.With(slog.String("job_id", jobID))

	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			logger.Error("Failed to load job", slog.String("error", err.Error()))
		}
		return
	}

	if job.Status != domain.JobStatusPending {
		logger.Warn("Job is not pending, skipping",
			slog.String("status", string(job.Status)),
		)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, logger, job, fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := r.execute(ctx, logger, job); err != nil {
		r.fail(ctx, logger, job, err)
	}
}

// execute runs the subprocess and records its outcome
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, job *domain.Job) error {
	if err := job.TransitionTo(domain.JobStatusRunning); err != nil {
		return err
	}
	if err := r.store.Save(ctx, job); err != nil {
		return err
	}

	params, err := job.Params()
	if err != nil {
		return err
	}

	cmd := BuildCommand(r.executable, job, params)
	total := iterations(params)

	proc := exec.Command(cmd.Args[0], cmd.Args[1:]...)
	proc.Dir = cmd.Dir
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open output pipe: %w", err)
	}
	proc.Stderr = proc.Stdout

	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}

	// Until Wait is reached the child must be reaped on every exit path,
	// including a panic unwinding through here.
	waited := false
	defer func() {
		if !waited {
			_ = proc.Process.Kill()
			_ = proc.Wait()
		}
	}()

	logger.Info("Subprocess started",
		slog.Int("pid", proc.Process.Pid),
		slog.Bool("frame_mode", cmd.FrameMode()),
		slog.Int("iterations", total),
	)

	if err := r.consume(ctx, logger, job, stdout, cmd.FrameMode(), total); err != nil {
		return err
	}

	waited = true
	exitCode, err := waitExitCode(proc)
	if err != nil {
		return fmt.Errorf("failed to wait for %s: %w", cmd.Args[0], err)
	}

	if exitCode == 0 {
		if err := job.TransitionTo(domain.JobStatusSucceeded); err != nil {
			return err
		}
		job.Progress = 100
		job.Message = "done: " + cmd.OutputPath
	} else {
		if err := job.TransitionTo(domain.JobStatusFailed); err != nil {
			return err
		}
		job.Message = fmt.Sprintf("%s exited with code %d", filepath.Base(cmd.Args[0]), exitCode)
	}

	if err := r.store.Save(ctx, job); err != nil {
		return err
	}

	logger.Info("Job finished",
		slog.String("status", string(job.Status)),
		slog.Int("exit_code", exitCode),
	)

	r.notifier.Broadcast(ctx, job.ID, domain.DoneEvent(job.Status, job.Progress))
	return nil
}

// consume reads combined output line by line until the stream closes
func (r *Runner) consume(ctx context.Context, logger *slog.Logger, job *domain.Job, out io.Reader, frameMode bool, total int) error {
	reader := bufio.NewReader(out)
	frames := 0

	for {
		raw, readErr := reader.ReadString('\n')
		if raw != "" {
			line := cleanLine(raw)

			if frameMode {
				if n, err := countFrames(job.OutputDir); err == nil {
					frames = n
				} else {
					logger.Debug("Frame count unavailable, keeping previous value",
						slog.Int("frames", frames),
						slog.String("error", err.Error()),
					)
				}
				job.Progress = EstimateProgress(frames, total)
			}

			job.Message = line
			if err := r.store.Save(ctx, job); err != nil {
				return err
			}
			r.notifier.Broadcast(ctx, job.ID, domain.LogEvent(line, job.Progress))
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read subprocess output: %w", readErr)
		}
	}
}

// Abandon marks a pending job failed when it could not be scheduled.
// Jobs that already left pending are untouched.
func (r *Runner) Abandon(ctx context.Context, jobID string, reason error) {
	logger := r.logger.With(slog.String("job_id", jobID))

	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		logger.Error("Failed to load abandoned job", slog.String("error", err.Error()))
		return
	}
	if job.Status != domain.JobStatusPending {
		return
	}

	r.fail(ctx, logger, job, fmt.Errorf("failed to schedule job: %w", reason))
}

// fail records err as the terminal state of job and publishes an error event
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, job *domain.Job, err error) {
	logger.Error("Job execution failed", slog.String("error", err.Error()))

	job.Status = domain.JobStatusFailed
	job.Message = "error: " + err.Error()

	if saveErr := r.store.Save(ctx, job); saveErr != nil {
		logger.Error("Failed to record job failure",
			slog.String("error", saveErr.Error()),
		)
	}

	r.notifier.Broadcast(ctx, job.ID, domain.ErrorEvent(err.Error(), job.Progress))
}

// cleanLine drops invalid UTF-8, NUL bytes and trailing whitespace so the
// line can be stored by any driver.
func cleanLine(raw string) string {
	line := strings.ToValidUTF8(raw, "")
	line = strings.ReplaceAll(line, "\x00", "")
	return strings.TrimRightFunc(line, unicode.IsSpace)
}

func waitExitCode(proc *exec.Cmd) (int, error) {
	err := proc.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
