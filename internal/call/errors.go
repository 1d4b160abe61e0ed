package call

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an operation needs a peer
	// connection and none exists yet.
	ErrNotInitialized = errors.New("call: peer connection not initialized")

	// ErrConnectionFailed is recorded when ICE gives up on every pair.
	ErrConnectionFailed = errors.New("call: connection failed")

	// ErrConnectionLost is recorded when an established path goes away.
	ErrConnectionLost = errors.New("call: connection lost")
)

// MediaAccessError normalizes every capture failure (permission, missing
// device, unsatisfiable constraints) into one kind.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("call: cannot access camera/microphone: %v", e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// NegotiationError reports a failed offer/answer step. Op names the step,
// e.g. "create offer" or "set remote description".
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("call: %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// CandidateError wraps a remote candidate that could not be added. It is
// never returned to callers; it only reaches the non-fatal hook.
type CandidateError struct {
	Candidate string
	Err       error
}

func (e *CandidateError) Error() string {
	return fmt.Sprintf("call: add ICE candidate %q: %v", e.Candidate, e.Err)
}

func (e *CandidateError) Unwrap() error { return e.Err }
