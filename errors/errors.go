package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Process errors ---

// ProcessCrashed reports an application process that exited before it became ready.
// stderrTail is the most recent stderr output, oldest line first.
func ProcessCrashed(suiteID, exitStatus string, stderrTail []string) *AppError {
	msg := fmt.Sprintf("app for suite %q exited before becoming ready (%s)", suiteID, exitStatus)
	if len(stderrTail) > 0 {
		msg += "\nlast stderr output:\n" + strings.Join(stderrTail, "\n")
	}
	return &AppError{
		Code: ErrCodeProcessCrashed, Message: msg,
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"suite_id": suiteID, "exit": exitStatus},
	}
}

// Timeout creates a new AppError for an operation that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// ConnectionFailed creates a new AppError for a failed connection to a service.
func ConnectionFailed(service string) *AppError {
	return &AppError{
		Code: ErrCodeConnectionFailed, Message: fmt.Sprintf("unable to connect to %s", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// --- Snapshot errors ---

// SnapshotNotFound reports a restore of a snapshot that has no file on disk.
func SnapshotNotFound(suiteID, name, path string) *AppError {
	return &AppError{
		Code:       ErrCodeSnapshotNotFound,
		Message:    fmt.Sprintf("snapshot %q not found for suite %q at %s", name, suiteID, path),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"suite_id": suiteID, "name": name, "path": path},
	}
}

// RestoreFailed reports a restore that was rolled back.
func RestoreFailed(suiteID, name string, cause error) *AppError {
	return &AppError{
		Code:       ErrCodeRestoreFailed,
		Message:    fmt.Sprintf("restore of snapshot %q for suite %q failed and was rolled back", name, suiteID),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"suite_id": suiteID, "name": name},
		Cause:   cause,
	}
}

// IsolationLeak reports isolation scopes that were opened but never cleaned up.
func IsolationLeak(depth int, labels []string) *AppError {
	return &AppError{
		Code:       ErrCodeIsolationLeak,
		Message:    fmt.Sprintf("%d isolation scope(s) still open: %s", depth, strings.Join(labels, ", ")),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"depth": depth, "labels": labels},
	}
}

// --- Resource errors ---

// SuiteNotFound creates a new AppError for an unknown suite id.
func SuiteNotFound(suiteID string) *AppError {
	return &AppError{
		Code: ErrCodeSuiteNotFound, Message: fmt.Sprintf("unknown suite: %s", suiteID),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"suite_id": suiteID},
	}
}

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// AlreadyExists creates a new AppError for a resource that already exists.
func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyExists, Message: fmt.Sprintf("%s already exists", resource),
		HTTPStatus: http.StatusConflict, Retryable: false,
		Details: map[string]any{"resource": resource},
	}
}

// ResolutionFailed reports that no suite context could be inferred for a test.
func ResolutionFailed(attempted []string, known []string) *AppError {
	return &AppError{
		Code: ErrCodeResolutionFailed,
		Message: fmt.Sprintf("could not resolve a suite context (tried: %s; known suites: %s)",
			strings.Join(attempted, "; "), strings.Join(known, ", ")),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"attempted": attempted, "known": known},
	}
}

// --- Validation errors ---

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// InvalidAction creates a new AppError for an unknown control-plane action.
func InvalidAction(action string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidAction, Message: fmt.Sprintf("unknown action: %s", action),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"action": action},
	}
}

// --- Internal errors ---

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// DatabaseError creates a new AppError for a database error.
func DatabaseError(cause error) *AppError {
	return &AppError{
		Code: ErrCodeDatabaseError, Message: "a database error occurred",
		HTTPStatus: http.StatusInternalServerError, Retryable: true, Cause: cause,
	}
}

// ExternalServiceError creates a new AppError for an error from an external service.
func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExternalService, Message: fmt.Sprintf("the %s service returned an error", service),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"service": service}, Cause: cause,
	}
}
