package compression

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	BackendFailed           ErrorKind = "backend_failed"
	InvalidCompressedOutput ErrorKind = "invalid_compressed_output"
	CompressionTooLarge     ErrorKind = "compression_too_large"
)

// Remedy is what the submitter is told whenever a backend gives up
const Remedy = "could not optimize this video; try a shorter or lower-resolution video"

// CompressionError is terminal for the job; backends never fail over to each other
type CompressionError struct {
	Kind    ErrorKind
	Backend string
	Remedy  string
	Err     error
}

func (e *CompressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s compression failed (%s): %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s compression failed (%s)", e.Backend, e.Kind)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

func NewCompressionError(kind ErrorKind, backend string, err error) error {
	return &CompressionError{
		Kind:    kind,
		Backend: backend,
		Remedy:  Remedy,
		Err:     err,
	}
}

func IsCompressionError(err error) bool {
	var target *CompressionError
	return errors.As(err, &target)
}

// KindOf returns the kind of a wrapped CompressionError, or "" if err is not one
func KindOf(err error) ErrorKind {
	var target *CompressionError
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
