// Package domain defines the shared data contracts for the master engine.
package domain

// ExecutionStatus represents a worker's outcome for one unit of work.
type ExecutionStatus string

const (
	StatusSucceeded        ExecutionStatus = "succeeded"
	StatusRetryableFailure ExecutionStatus = "retryable_failure"
	StatusFatalFailure     ExecutionStatus = "fatal_failure"
)

// Priority represents the dispatch priority of a work request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// ErrorCode enumerates well-known error categories for HTTP responses.
type ErrorCode string

const (
	CodeValidationError   ErrorCode = "validation_error"
	CodeRoutingError      ErrorCode = "routing_error"
	CodeWorkerUnavailable ErrorCode = "worker_unavailable"
	CodeDispatchFailed    ErrorCode = "dispatch_failed"
	CodeStoreUnavailable  ErrorCode = "store_unavailable"
	CodeInternalError     ErrorCode = "internal_error"
)
