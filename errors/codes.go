package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Application process errors
const (
	// ErrCodeProcessCrashed indicates an application process exited before it became ready.
	ErrCodeProcessCrashed ErrorCode = "PROCESS_CRASHED"
	// ErrCodeTimeout indicates a readiness wait, shutdown or request exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeConnectionFailed indicates a failed connection to a dependency.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
)

// Snapshot errors
const (
	// ErrCodeSnapshotNotFound indicates no snapshot file exists for a suite and name.
	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT_NOT_FOUND"
	// ErrCodeRestoreFailed indicates a restore transaction was rolled back.
	ErrCodeRestoreFailed ErrorCode = "RESTORE_FAILED"
	// ErrCodeIsolationLeak indicates an isolation scope was never cleaned up.
	ErrCodeIsolationLeak ErrorCode = "ISOLATION_LEAK"
)

// Resource errors
const (
	// ErrCodeSuiteNotFound indicates the suite id is not known to the registry.
	ErrCodeSuiteNotFound ErrorCode = "SUITE_NOT_FOUND"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeAlreadyExists indicates the resource already exists.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrCodeResolutionFailed indicates no suite context matched the running test.
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInvalidAction indicates an unknown control-plane action or wrong arity.
	ErrCodeInvalidAction ErrorCode = "INVALID_ACTION"
)

// Internal errors
const (
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeDatabaseError indicates a database error.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	// ErrCodeExternalService indicates an error from an external service.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnectionFailed: true,
	ErrCodeTimeout:          true,
	ErrCodeDatabaseError:    true,
	ErrCodeExternalService:  true,
	ErrCodeProcessCrashed:   false,
	ErrCodeRestoreFailed:    false,
	ErrCodeInternal:         false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
