package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// TransientError marks a failure worth retrying: timeouts, rate limits,
// server errors, network trouble.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure retrying cannot fix: bad requests, invalid
// credentials.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(op string, err error) error { return &TransientError{Op: op, Err: err} }

// Fatal wraps err as non-retryable.
func Fatal(op string, err error) error { return &FatalError{Op: op, Err: err} }

// IsFatal reports whether err is classified as non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient: the retry budget bounds the damage either way.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsFatal(err)
}

// classifyStatus maps an HTTP status to the error taxonomy. Auth and
// bad-request failures are fatal; rate limits, timeouts, and server
// errors are transient, as is anything unrecognized.
func classifyStatus(op string, status int, detail string) error {
	err := fmt.Errorf("status %d: %s", status, detail)
	switch {
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound:
		return Fatal(op, err)
	default:
		return Transient(op, err)
	}
}
