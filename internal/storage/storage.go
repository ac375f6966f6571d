package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Pagination bounds for List
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

const jobColumns = `id, status, message, progress, input_path, output_dir, params_json, created_at, updated_at`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		status      TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		progress    INTEGER NOT NULL DEFAULT 0,
		input_path  TEXT NOT NULL,
		output_dir  TEXT NOT NULL,
		params_json TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
}

// Storage handles all job record operations
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the jobs table and its indexes if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Create persists a new job. It fails with domain.ErrDuplicateID if the id is taken.
func (s *Storage) Create(ctx context.Context, job *domain.Job) error {
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.Message,
		job.Progress,
		job.InputPath,
		job.OutputDir,
		job.ParamsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Job created",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	return nil
}

// Save upserts the full mutable state of a job and refreshes updated_at.
// Params, paths and created_at are fixed at creation and never overwritten.
func (s *Storage) Save(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.Message,
		job.Progress,
		job.InputPath,
		job.OutputDir,
		job.ParamsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	return nil
}

// Get retrieves a job by its id, returning domain.ErrJobNotFound when absent
func (s *Storage) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// List returns job summaries ordered by creation time, newest first
func (s *Storage) List(ctx context.Context, limit, offset int) ([]domain.JobSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.Rebind(`
		SELECT id, status, progress, message, created_at
		FROM jobs
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)

	jobs := []domain.JobSummary{}
	if err := s.db.SelectContext(ctx, &jobs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc sqlite reports constraint violations only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
