package types

import "fmt"

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request validation and lookup error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
)

// Transfer coordination error codes
const (
	ErrConflict          ErrorCode = "CONFLICT"
	ErrStaleTransfer     ErrorCode = "STALE_TRANSFER"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrUnauthorizedRole  ErrorCode = "UNAUTHORIZED_ROLE"
)

// Summarizer error codes
const (
	ErrSummaryTimeout ErrorCode = "SUMMARY_TIMEOUT"
	ErrSummaryFailed  ErrorCode = "SUMMARY_FAILED"
)

// Infrastructure error codes
const (
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Error represents a structured error with code, message, and metadata.
// For STALE_TRANSFER and INVALID_TRANSITION the State field carries the
// current authoritative transfer state so clients can resynchronize instead
// of blindly retrying.
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Retryable  bool           `json:"retryable"`
	State      *TransferState `json:"state,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithState attaches the current authoritative transfer state.
func (e *Error) WithState(state *TransferState) *Error {
	e.State = state
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
