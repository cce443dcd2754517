package ingesting

import (
	"errors"
	"fmt"

	"github.com/yeti47/clipintake/compression"
	"github.com/yeti47/clipintake/heartbeat"
	"github.com/yeti47/clipintake/offload"
	"github.com/yeti47/clipintake/validation"
)

// Stage names the pipeline phase an error came from
type Stage string

const (
	StageValidation  Stage = "validation"
	StageOffload     Stage = "offload"
	StageCompression Stage = "compression"
	StageTimeout     Stage = "timeout"
	StageProcessing  Stage = "processing"
)

var ErrQueueClosed = errors.New("job queue is closed")

// JobError is the tagged error a failed job reports to its caller
type JobError struct {
	JobID   string
	Stage   Stage
	Message string
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed at %s: %s", e.JobID, e.Stage, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func NewJobError(jobID string, stage Stage, message string, err error) error {
	return &JobError{JobID: jobID, Stage: stage, Message: message, Err: err}
}

func IsJobError(err error) bool {
	var jobErr *JobError
	return errors.As(err, &jobErr)
}

// StageOf returns the stage of a JobError, or "" for any other error
func StageOf(err error) Stage {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Stage
	}
	return ""
}

// classify maps a phase error onto its stage and the message shown to the caller
func classify(err error) (Stage, string) {
	var validationErr *validation.ValidationError
	if errors.As(err, &validationErr) {
		return StageValidation, validationErr.Message
	}

	var timeoutErr *heartbeat.TimeoutError
	if errors.As(err, &timeoutErr) {
		return StageTimeout, fmt.Sprintf("processing stalled: no progress for %s", timeoutErr.Window)
	}

	var memErr *offload.MemoryLimitExceededError
	if errors.As(err, &memErr) {
		return StageOffload, memErr.Error()
	}

	var offloadErr *offload.OffloadError
	if errors.As(err, &offloadErr) {
		return StageOffload, "failed to store video: " + offloadErr.Err.Error()
	}

	var compressionErr *compression.CompressionError
	if errors.As(err, &compressionErr) {
		return StageCompression, compressionErr.Remedy
	}

	return StageProcessing, err.Error()
}
