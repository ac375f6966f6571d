package domain

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusCanceled is reserved; nothing transitions a job into it.
	JobStatusCanceled JobStatus = "canceled"
)

// Event type constants published by the runner
const (
	EventTypeLog   = "log"
	EventTypeDone  = "done"
	EventTypeError = "error"
)

// Output naming inside a job's output directory
const (
	OutputFileName     = "output.png"
	FramePrefix        = "frame-"
	FramePattern       = "frame-%05d.png"
	DefaultIterations  = 100
	MaxRunningProgress = 99
)

// IsTerminal reports whether no further transition is allowed from s
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job may move from s to next.
// Only forward moves are allowed and terminal states are final.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() || next == JobStatusCanceled {
		return false
	}
	return next.rank() > s.rank()
}
