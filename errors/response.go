package errors

import (
	stderrors "errors"
	"net/http"
)

// ErrorResponse is the JSON body returned by the control plane for failed requests.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    ErrorCode      `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ToResponse converts an AppError to an ErrorResponse for JSON serialization.
// The message includes the cause so that callers in other processes can act on it.
func (e *AppError) ToResponse() ErrorResponse {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return ErrorResponse{
		Error:   msg,
		Code:    e.Code,
		Details: e.Details,
	}
}

// FromResponse rebuilds an AppError from a decoded error body and HTTP status.
func FromResponse(status int, body ErrorResponse) *AppError {
	code := body.Code
	if code == "" {
		code = codeForStatus(status)
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := New(code, msg, status)
	if len(body.Details) > 0 {
		e.WithDetails(body.Details)
	}
	return e
}

func codeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status >= 400 && status < 500:
		return ErrCodeInvalidInput
	default:
		return ErrCodeInternal
	}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}
