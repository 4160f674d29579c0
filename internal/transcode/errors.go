package transcode

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned by Submit when the worker pool has no free slot.
	// No job row is created in that case.
	ErrQueueFull = errors.New("transcode queue is full")
	// ErrPoolClosed is returned once the pool has begun shutting down.
	ErrPoolClosed = errors.New("transcode pool is shut down")
	// ErrNotCompleted is returned when a download is requested for a job that
	// has not completed.
	ErrNotCompleted = errors.New("job has not completed")
)

// ValidationError rejects a malformed submission before any row exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FetchError is a failure reading the source object into the workspace.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch source %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EncodeError carries the encoding engine's diagnostic text unchanged.
type EncodeError struct {
	Diagnostic string
}

func (e *EncodeError) Error() string { return e.Diagnostic }

// PushError is a failure uploading encoder output after a successful encode.
type PushError struct {
	Key string
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("upload output %s: %v", e.Key, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// StatusWriteError is a failed write to the status store. It is logged,
// never surfaced to the job.
type StatusWriteError struct {
	JobID  uuid.UUID
	Status string
	Err    error
}

func (e *StatusWriteError) Error() string {
	return fmt.Sprintf("write %s for job %s: %v", e.Status, e.JobID, e.Err)
}

func (e *StatusWriteError) Unwrap() error { return e.Err }
