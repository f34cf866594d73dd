// File: api/schemas/errors.go
package schemas

import "errors"

// Sentinel errors shared across the core so callers can branch with
// errors.Is instead of string matching.
var (
	// ErrSessionNotFound is returned when a session id is not in the active set.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTerminalState is returned when an operation targets a session that
	// already reached completed, failed or cancelled.
	ErrTerminalState = errors.New("session is in a terminal state")
	// ErrInvalidTransition is returned when a lifecycle guard rejects the
	// requested transition.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrCapacityExceeded is returned synchronously when the orchestrator is
	// at its concurrent-session limit. Requests are never queued.
	ErrCapacityExceeded = errors.New("concurrent session capacity exceeded")
	// ErrNoStepsRemaining is returned when executeNextStep is called on a
	// fully progressed session.
	ErrNoStepsRemaining = errors.New("no steps remaining")
	// ErrPipelineNotFound is returned when a pipeline status is requested for
	// a request that is no longer in flight.
	ErrPipelineNotFound = errors.New("pipeline not found")
	// ErrFeatureUnavailable is returned when the current degradation level
	// has gated the requested feature off.
	ErrFeatureUnavailable = errors.New("feature unavailable at current degradation level")
)
