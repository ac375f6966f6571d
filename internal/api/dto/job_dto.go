package dto

import (
	"time"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
)

// Form defaults for a new job; nth has none and is omitted unless given
const (
	DefaultShapes     = 100
	DefaultMode       = 1
	DefaultOutputSize = 1024
	DefaultResize     = 256
	DefaultAlpha      = 128
	DefaultBackground = "avg"
)

// CreateJobForm holds the multipart form fields accompanying the uploaded file
type CreateJobForm struct {
	N   *int    `form:"n"`
	M   *int    `form:"m"`
	S   *int    `form:"s"`
	R   *int    `form:"r"`
	A   *int    `form:"a"`
	BG  *string `form:"bg"`
	Rep *int    `form:"rep"`
	Nth *int    `form:"nth"`
	J   *int    `form:"j"`
	V   *int    `form:"v"`
}

// Params applies defaults and returns the job params
func (f *CreateJobForm) Params() domain.Params {
	params := domain.Params{
		"n":   intOr(f.N, DefaultShapes),
		"m":   intOr(f.M, DefaultMode),
		"s":   intOr(f.S, DefaultOutputSize),
		"r":   intOr(f.R, DefaultResize),
		"a":   intOr(f.A, DefaultAlpha),
		"bg":  DefaultBackground,
		"rep": intOr(f.Rep, 0),
		"j":   intOr(f.J, 0),
		"v":   intOr(f.V, 0),
	}
	if f.BG != nil {
		params["bg"] = *f.BG
	}
	if f.Nth != nil {
		params["nth"] = *f.Nth
	}
	return params
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// CreateJobResponse is returned once a job is accepted
type CreateJobResponse struct {
	ID       string           `json:"id"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`
}

// JobResponse is the detailed view of one job
type JobResponse struct {
	ID        string           `json:"id"`
	Status    domain.JobStatus `json:"status"`
	Message   string           `json:"message"`
	Progress  int              `json:"progress"`
	CreatedAt time.Time        `json:"created_at"`
	Params    domain.Params    `json:"params"`
}

// OutputsResponse lists the files a job has produced so far
type OutputsResponse struct {
	Files []string `json:"files"`
}

// ListJobsRequest holds admin listing query parameters
type ListJobsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ListJobsResponse is one page of job summaries
type ListJobsResponse struct {
	Items []domain.JobSummary `json:"items"`
	Count int                 `json:"count"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error string `json:"error"`
}
