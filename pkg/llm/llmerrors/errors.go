// Package llmerrors provides failure classification for backend completions.
// The failover layer uses the classification to decide between retrying the
// same backend and advancing to the next one.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes a backend failure.
type ErrorType int8

const (
	// Transient types: retried on the same backend within its try budget.

	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTimeout represents a request timeout.
	ErrorTypeTimeout
	// ErrorTypeServer represents a 5xx-class server error.
	ErrorTypeServer
	// ErrorTypeNetwork represents a network-level failure (reset, EOF, dial timeout).
	ErrorTypeNetwork

	// Permanent types: abandon this backend and fail over immediately.

	// ErrorTypeAuth represents authentication or permission failures (401/403).
	ErrorTypeAuth
	// ErrorTypeBadRequest represents malformed or rejected requests (400).
	ErrorTypeBadRequest
	// ErrorTypeUnknown is the default for unclassified failures.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeServer:
		return "server"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Transient reports whether this error type warrants a retry of the same backend.
func (et ErrorType) Transient() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// Error is a classified backend failure.
type Error struct {
	Err        error     // wrapped underlying error
	Message    string    // human-readable summary
	Type       ErrorType // classification
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("backend error (%s): %s: %v", e.Type, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("backend error (%s): %s", e.Type, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("backend error (%s): %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("backend error (%s): status %d", e.Type, e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewWithStatus creates a classified error carrying an HTTP status code.
func NewWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewWithCause creates a classified error wrapping another error.
func NewWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown when err was
// never classified.
func TypeOf(err error) ErrorType {
	var be *Error
	if errors.As(err, &be) {
		return be.Type
	}
	return ErrorTypeUnknown
}

// IsTransient reports whether err should be retried on the same backend.
// Unclassified errors are treated as permanent; cancellation is never transient.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return TypeOf(err).Transient()
}

// ClassifyStatus maps an HTTP status code to an error type. Zero means no
// classification could be made from the status alone.
func ClassifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode == 408:
		return ErrorTypeTimeout
	case statusCode >= 500 && statusCode <= 599:
		return ErrorTypeServer
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

// Classify maps an arbitrary SDK or transport error to a classified Error.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewWithCause(ErrorTypeTimeout, err, "request timeout")
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota"):
		return NewWithCause(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "overloaded"):
		return NewWithCause(ErrorTypeServer, err, "server error")
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return NewWithCause(ErrorTypeTimeout, err, "request timeout")
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "eof") || strings.Contains(errStr, "reset"):
		return NewWithCause(ErrorTypeNetwork, err, "network error")
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "api key"):
		return NewWithCause(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "malformed"):
		return NewWithCause(ErrorTypeBadRequest, err, "bad request")
	default:
		return NewWithCause(ErrorTypeUnknown, err, "unclassified error")
	}
}

// ExhaustedError is the terminal failure of the failover layer: every backend
// and every retry path was spent. Causes holds every observed failure in the
// order attempts were made.
type ExhaustedError struct {
	Causes []error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if len(e.Causes) == 0 {
		return "all backends exhausted"
	}
	parts := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		parts[i] = c.Error()
	}
	return fmt.Sprintf("all backends exhausted after %d attempts: %s",
		len(e.Causes), strings.Join(parts, "; "))
}

// Unwrap exposes every cause for errors.Is / errors.As traversal.
func (e *ExhaustedError) Unwrap() []error {
	return e.Causes
}

// IsExhausted reports whether err is the failover layer's terminal failure.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
