package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrRetriesExhausted is matched (via errors.Is) by the error Do returns
// when every attempt failed with a retryable error. Callers treat it as a
// transient signal and may retry the whole operation later.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetriesExhaustedError carries the last retryable failure.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// ConflictError marks a write that lost a race with a concurrent writer:
// a unique violation, serialization failure, deadlock or a locked database.
// Re-running the write resolves it.
type ConflictError struct {
	Op  string
	Err error
}

func (e *ConflictError) Error() string {
	if e.Op == "" {
		return "write conflict: " + e.Err.Error()
	}
	return e.Op + ": write conflict: " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError wraps err as a write conflict in op.
func NewConflictError(op string, err error) *ConflictError {
	return &ConflictError{Op: op, Err: err}
}

// IsConflict returns true if err (or any error in its chain) is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true for explicit TransientErrors, exhausted retries
// and common network failures (timeouts, resets, refused connections).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) || errors.Is(err, ErrRetriesExhausted) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"conn closed",
		"connection refused",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsRetryable is the default retry predicate: conflicts and transient
// failures are retried, everything else is returned immediately.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	return IsConflict(err) || IsTransient(err)
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
