package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/primitive-orchestrator/internal/api/dto"
	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipart overhead allowed on top of the file limit for the form fields
const formOverheadBytes = 1 << 20

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// CreateJob handles POST /api/jobs
// Stores the uploaded image, creates a job for it and schedules it.
func (h *JobHandler) CreateJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+formOverheadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.tooLarge(c)
			return
		}
		h.logger.Warn("Missing upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "file is required"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "only PNG / JPG / JPEG files are supported"})
		return
	}

	if fileHeader.Size > h.maxUploadBytes {
		h.tooLarge(c)
		return
	}

	var form dto.CreateJobForm
	if err := c.ShouldBind(&form); err != nil {
		h.logger.Warn("Invalid job parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid job parameters"})
		return
	}

	dest, err := h.saveUpload(fileHeader)
	if err != nil {
		h.logger.Error("Failed to store upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to store upload"})
		return
	}

	ctx := c.Request.Context()
	job, err := h.runner.Create(ctx, dest, form.Params())
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to create job"})
		return
	}

	if err := h.worker.Submit(ctx, job.ID); err != nil {
		h.logger.Error("Failed to schedule job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		h.runner.Abandon(context.WithoutCancel(ctx), job.ID, err)
		if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			h.logger.Warn("Failed to remove upload",
				slog.String("path", dest),
				slog.String("error", rmErr.Error()),
			)
		}
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "failed to schedule job"})
		return
	}

	c.JSON(http.StatusOK, dto.CreateJobResponse{
		ID:       job.ID,
		Status:   job.Status,
		Progress: job.Progress,
	})
}

func (h *JobHandler) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
		Error: fmt.Sprintf("file too large, max %d MB", h.maxUploadBytes/(1024*1024)),
	})
}

// saveUpload copies the upload into the uploads directory without
// overwriting existing files: cat.png, cat-1.png, cat-2.png, ...
func (h *JobHandler) saveUpload(fileHeader *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	name := filepath.Base(filepath.Clean("/" + fileHeader.Filename))
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		dest := filepath.Join(h.uploadsDir, candidate)

		dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create upload file: %w", err)
		}

		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			os.Remove(dest)
			return "", fmt.Errorf("failed to write upload: %w", err)
		}
		if err := dst.Close(); err != nil {
			return "", fmt.Errorf("failed to write upload: %w", err)
		}
		return dest, nil
	}
}

// GetJob handles GET /api/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	params, err := job.Params()
	if err != nil {
		h.logger.Warn("Stored params are unreadable",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		params = domain.Params{}
	}

	c.JSON(http.StatusOK, dto.JobResponse{
		ID:        job.ID,
		Status:    job.Status,
		Message:   job.Message,
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt,
		Params:    params,
	})
}

// ListOutputs handles GET /api/jobs/:job_id/outputs
func (h *JobHandler) ListOutputs(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	files := []string{}
	entries, err := os.ReadDir(job.OutputDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		h.logger.Error("Failed to list outputs",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list outputs"})
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}

	c.JSON(http.StatusOK, dto.OutputsResponse{Files: files})
}

// DownloadOutput handles GET /api/jobs/:job_id/outputs/:filename
func (h *JobHandler) DownloadOutput(c *gin.Context) {
	filename := c.Param("filename")
	if !isPlainFileName(filename) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid file name"})
		return
	}

	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	path := filepath.Join(job.OutputDir, filename)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "file not found"})
		return
	}

	c.FileAttachment(path, filename)
}

func isPlainFileName(name string) bool {
	if name == "" || name == "." || strings.Contains(name, "..") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// ListJobs handles GET /api/admin/jobs
// Lists jobs newest first with offset pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}
	if req.Offset < 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "offset must not be negative"})
		return
	}

	items, err := h.store.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list jobs"})
		return
	}
	if items == nil {
		items = []domain.JobSummary{}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Items: items, Count: len(items)})
}

// CancelJob handles POST /api/admin/jobs/:job_id/cancel
// Running subprocesses cannot be interrupted, so cancellation is always refused.
func (h *JobHandler) CancelJob(c *gin.Context) {
	h.logger.Info("Cancel requested", slog.String("job_id", c.Param("job_id")))
	c.JSON(http.StatusNotImplemented, dto.ErrorResponse{Error: domain.ErrCancelNotSupported.Error()})
}

// loadJob resolves the :job_id parameter, writing the error response when it fails
func (h *JobHandler) loadJob(c *gin.Context) (*domain.Job, bool) {
	jobID := c.Param("job_id")

	// Ids are uuids; anything else cannot exist.
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return nil, false
	}

	job, err := h.store.Get(c.Request.Context(), jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "job not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to get job"})
		return nil, false
	}

	return job, true
}
