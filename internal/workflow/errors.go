// Package workflow implements the coaching phase state machine and the
// terminal write tool contract.
package workflow

import "errors"

var (
	// ErrClassificationFailure means a turn could not be mapped to a legal intent.
	// It is the only workflow error meant to reach the end user, as a request to rephrase.
	ErrClassificationFailure = errors.New("turn could not be classified for the current phase")

	// ErrToolInvocationOutOfPhase means the write tool was invoked before the session was done.
	ErrToolInvocationOutOfPhase = errors.New("write tool invoked outside the done phase")

	// ErrGatewayUnavailable means the completion call failed or timed out.
	ErrGatewayUnavailable = errors.New("completion gateway unavailable")

	// ErrInvariantViolation means a transition was refused to avoid a malformed artifact.
	ErrInvariantViolation = errors.New("workflow invariant violated")
)
