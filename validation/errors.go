package validation

import (
	"errors"
	"fmt"
)

type Reason string

const (
	ReasonInvalidFormat Reason = "invalid_format"
	ReasonEmpty         Reason = "empty"
	ReasonUnsupported   Reason = "unsupported"
	ReasonTooLarge      Reason = "too_large"
	ReasonTooLong       Reason = "too_long"
	ReasonUnreadable    Reason = "unreadable"
)

// ValidationError is returned for any source the pipeline refuses to process.
// Message is safe to show to the submitter.
type ValidationError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("video validation failed (%s): %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("video validation failed (%s): %s", e.Reason, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(reason Reason, message string, err error) error {
	return &ValidationError{
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// ReasonOf returns the reason of a wrapped ValidationError, or "" if err is not one
func ReasonOf(err error) Reason {
	var target *ValidationError
	if errors.As(err, &target) {
		return target.Reason
	}
	return ""
}
