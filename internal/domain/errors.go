package domain

import "errors"

// Sentinel errors for the well-known failure kinds. Callers classify with
// errors.Is; the HTTP layer maps them to ErrorCode values.
var (
	// ErrNoCandidates means routing found no eligible agent for a command.
	ErrNoCandidates = errors.New("no candidates available")

	// ErrStoreUnavailable means the backing state store is unreachable.
	ErrStoreUnavailable = errors.New("state store unavailable")

	// ErrDispatchFailed means a worker rejected or failed a dispatch call.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrWorkerUnavailable means a worker could not be reached at all.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrAgentNotRegistered means the routed agent is missing from the registry.
	ErrAgentNotRegistered = errors.New("agent not registered")

	// ErrMissingStageAgent means a mandatory pipeline stage has no registrant.
	ErrMissingStageAgent = errors.New("no registered agent supports stage")
)
