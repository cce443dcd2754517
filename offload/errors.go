package offload

import (
	"errors"
	"fmt"
)

// OffloadError wraps any read or write failure during a chunked transfer
type OffloadError struct {
	Offset int64
	Err    error
}

func (e *OffloadError) Error() string {
	return fmt.Sprintf("offload failed at offset %d: %v", e.Offset, e.Err)
}

func (e *OffloadError) Unwrap() error {
	return e.Err
}

func NewOffloadError(offset int64, err error) error {
	return &OffloadError{Offset: offset, Err: err}
}

func IsOffloadError(err error) bool {
	var target *OffloadError
	return errors.As(err, &target)
}

// MemoryLimitExceededError is raised by code paths that must buffer instead of stream
type MemoryLimitExceededError struct {
	Limit     int64
	Requested int64
}

func (e *MemoryLimitExceededError) Error() string {
	return fmt.Sprintf("memory usage exceeded the safe limit (%d of %d bytes)", e.Requested, e.Limit)
}

func NewMemoryLimitExceededError(limit, requested int64) error {
	return &MemoryLimitExceededError{Limit: limit, Requested: requested}
}

func IsMemoryLimitExceededError(err error) bool {
	var target *MemoryLimitExceededError
	return errors.As(err, &target)
}
