package domain

import "errors"

// Error taxonomy (§7 ERROR HANDLING DESIGN). Every store/service method
// returns one of these rather than panicking; scope and validation errors
// are surfaced to the client, transient errors are recovered locally where
// possible.
var (
	// ErrAuthScope means scope was never established on this session.
	ErrAuthScope = errors.New("auth scope not established")
	// ErrUpstreamUnavailable wraps an embedding/LLM HTTP failure.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrToolExecution marks a single failed tool invocation.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrTurnInFlight means a session already has a turn in progress.
	ErrTurnInFlight = errors.New("turn already in flight")
	// ErrSlowConsumer means the WebSocket send buffer stayed saturated.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrDeadlineExceeded means the per-turn deadline elapsed.
	ErrDeadlineExceeded = errors.New("turn deadline exceeded")
	// ErrValidation marks a malformed frame or tool marker argument.
	ErrValidation = errors.New("validation error")
	// ErrStorage marks a durable write failure; callers should retry with
	// backoff while the in-memory copy remains authoritative for reads.
	ErrStorage = errors.New("storage error")
	// ErrNotFound mirrors the teacher's sentinel-error store pattern.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the caller does not own the requested scope.
	ErrForbidden = errors.New("forbidden")
)
