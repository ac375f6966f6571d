package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Params holds the processing options of a job. Values are scalars
// (string, bool, json.Number or Go numeric types).
type Params map[string]any

// Job represents one request to process an input file with the external executable
type Job struct {
	ID         string    `db:"id"`
	Status     JobStatus `db:"status"`
	Message    string    `db:"message"`
	Progress   int       `db:"progress"`
	InputPath  string    `db:"input_path"`
	OutputDir  string    `db:"output_dir"`
	ParamsJSON string    `db:"params_json"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// JobSummary is the administrative listing view of a job
type JobSummary struct {
	ID        string    `db:"id" json:"id"`
	Status    JobStatus `db:"status" json:"status"`
	Progress  int       `db:"progress" json:"progress"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Event is a transient notification about a job's execution
type Event struct {
	Type     string    `json:"type"`
	Status   JobStatus `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
	Progress int       `json:"progress"`
}

// Params decodes the stored params. Numbers are kept as json.Number so
// they round-trip to the command line unchanged.
func (j *Job) Params() (Params, error) {
	params := Params{}
	if j.ParamsJSON == "" {
		return params, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(j.ParamsJSON)))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return params, nil
}

// EncodeParams serializes params for storage
func EncodeParams(params Params) (string, error) {
	if params == nil {
		params = Params{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return string(data), nil
}

// TransitionTo moves the job to next, refusing backward or post-terminal moves
func (j *Job) TransitionTo(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return &TransitionError{From: j.Status, To: next}
	}
	j.Status = next
	return nil
}

// LogEvent builds the per-line progress event
func LogEvent(message string, progress int) Event {
	return Event{Type: EventTypeLog, Message: message, Progress: progress}
}

// DoneEvent builds the terminal event for a finished subprocess
func DoneEvent(status JobStatus, progress int) Event {
	return Event{Type: EventTypeDone, Status: status, Progress: progress}
}

// ErrorEvent builds the terminal event for an orchestration failure
func ErrorEvent(message string, progress int) Event {
	return Event{Type: EventTypeError, Status: JobStatusFailed, Message: message, Progress: progress}
}
