// Package errors provides the structured error type shared by the supervisor,
// snapshot engine, control plane and worker-side helpers. Every AppError carries a
// machine-readable code, an HTTP status used by the control plane, and a
// retryable hint used by the control-plane client.
package errors
