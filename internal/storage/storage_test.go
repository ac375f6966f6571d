package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
	"github.com/cuongbtq/primitive-orchestrator/shared/database"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestStorage opens an in-memory SQLite database with the jobs schema
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   ":memory:",
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s := NewStorage(client.GetDB(), discardLogger())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newJob(id string) *domain.Job {
	return &domain.Job{
		ID:         id,
		Status:     domain.JobStatusPending,
		InputPath:  "/data/uploads/" + id + ".png",
		OutputDir:  "/data/jobs/" + id,
		ParamsJSON: `{"n":10}`,
	}
}

func TestStorage_CreateAndGet(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	job := newJob("job-1")
	require.NoError(t, s.Create(ctx, job))
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.UpdatedAt.IsZero())

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, job.InputPath, got.InputPath)
	assert.Equal(t, job.OutputDir, got.OutputDir)
	assert.Equal(t, `{"n":10}`, got.ParamsJSON)
	assert.WithinDuration(t, job.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestStorage_CreateDuplicateID(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newJob("dup")))

	err := s.Create(ctx, newJob("dup"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestStorage_GetNotFound(t *testing.T) {
	s := setupTestStorage(t)

	job, err := s.Get(context.Background(), "missing")
	assert.Nil(t, job)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_Save(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := base
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	job := newJob("job-save")
	require.NoError(t, s.Create(ctx, job))
	createdAt := job.CreatedAt

	t.Run("updates mutable fields and refreshes updated_at", func(t *testing.T) {
		job.Status = domain.JobStatusRunning
		job.Message = "iteration 3"
		job.Progress = 30
		require.NoError(t, s.Save(ctx, job))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, got.Status)
		assert.Equal(t, "iteration 3", got.Message)
		assert.Equal(t, 30, got.Progress)
		assert.True(t, got.UpdatedAt.After(createdAt))
		assert.True(t, got.CreatedAt.Equal(createdAt))
	})

	t.Run("params and paths are never overwritten", func(t *testing.T) {
		tampered := *job
		tampered.ParamsJSON = `{"n":999}`
		tampered.OutputDir = "/elsewhere"
		require.NoError(t, s.Save(ctx, &tampered))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, `{"n":10}`, got.ParamsJSON)
		assert.Equal(t, "/data/jobs/job-save", got.OutputDir)
	})

	t.Run("is idempotent", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, job))
		require.NoError(t, s.Save(ctx, job))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.Message, got.Message)
	})

	t.Run("inserts when the record is absent", func(t *testing.T) {
		fresh := newJob("job-upsert")
		require.NoError(t, s.Save(ctx, fresh))

		got, err := s.Get(ctx, "job-upsert")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
	})
}

func TestStorage_List(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		job := newJob(fmt.Sprintf("job-%d", i))
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(ctx, job))
	}

	tests := []struct {
		name   string
		limit  int
		offset int
		want   []string
	}{
		{name: "newest first", limit: 3, offset: 0, want: []string{"job-4", "job-3", "job-2"}},
		{name: "offset", limit: 2, offset: 3, want: []string{"job-1", "job-0"}},
		{name: "offset past end", limit: 10, offset: 10, want: []string{}},
		{name: "default limit", limit: 0, offset: 0, want: []string{"job-4", "job-3", "job-2", "job-1", "job-0"}},
		{name: "negative offset", limit: 1, offset: -5, want: []string{"job-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.List(ctx, tt.limit, tt.offset)
			require.NoError(t, err)

			ids := make([]string, 0, len(jobs))
			for _, j := range jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStorage_PostgresErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	s := NewStorage(sqlx.NewDb(mockDB, "postgres"), discardLogger())
	ctx := context.Background()

	t.Run("unique violation maps to duplicate id", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO jobs").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := s.Create(ctx, newJob("dup"))
		assert.ErrorIs(t, err, domain.ErrDuplicateID)
	})

	t.Run("other insert errors are wrapped", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("connection reset"))

		err := s.Create(ctx, newJob("x"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrDuplicateID)
		assert.Contains(t, err.Error(), "failed to create job")
	})

	t.Run("queries are rebound to postgres placeholders", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("save failure is wrapped", func(t *testing.T) {
		mock.ExpectExec("ON CONFLICT").WillReturnError(errors.New("disk full"))

		err := s.Save(ctx, newJob("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to save job")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
