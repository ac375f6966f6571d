package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateID is returned when creating a job whose id already exists
	ErrDuplicateID = errors.New("duplicate job id")

	// ErrInvalidParams is returned when stored params cannot be decoded
	ErrInvalidParams = errors.New("invalid job params")

	// ErrCancelNotSupported is returned by the cancel endpoint; running subprocesses are never killed
	ErrCancelNotSupported = errors.New("job cancellation is not implemented")
)

// TransitionError reports a status change that would move a job backwards
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
