// Package faults defines the shared failure taxonomy: transient network
// failures that are retried or absorbed, permanent request failures that
// surface immediately, and validation failures rejected before any mutation.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOffline aborts retry loops when connectivity is lost mid-sequence
var ErrOffline = errors.New("client is offline")

// ValidationError marks a malformed message rejected before any mutation
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NewValidationError creates a ValidationError with the given reason
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPError carries a backend HTTP status for retry classification
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// PermanentError wraps a failure that must never be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as non-retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// transientSignatures are substrings identifying recoverable network failures
var transientSignatures = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"econnreset",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
	"no such host",
	"broken pipe",
}

// IsPermanent reports whether err must not be retried: explicit permanent
// wrappers, validation failures, and HTTP 4xx other than 408/429.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	if IsValidation(err) {
		return true
	}

	var he *HTTPError
	if errors.As(err, &he) {
		if he.StatusCode >= 400 && he.StatusCode < 500 {
			return he.StatusCode != 408 && he.StatusCode != 429
		}
	}

	return false
}

// IsTransient reports whether err matches a recoverable network signature
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}

	var he *HTTPError
	if errors.As(err, &he) {
		// 408/429 fall through the permanent check above; 5xx is transient
		return he.StatusCode == 408 || he.StatusCode == 429 || he.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
