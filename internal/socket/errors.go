package socket

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("socket: client closed")

	// ErrAborted is returned by Connect when Disconnect ran while the dial
	// was in flight. The fresh connection is discarded.
	ErrAborted = errors.New("socket: connect aborted by disconnect")

	// ErrHeartbeatTimeout is reported when no heartbeat ack arrived within
	// Options.HeartbeatTimeout.
	ErrHeartbeatTimeout = errors.New("socket: heartbeat timed out")
)

// TransportError reports a failure of the underlying connection: a dial
// that did not complete, a read that broke mid-stream or a missed
// heartbeat. It is delivered to "error" listeners.
type TransportError struct {
	Op  string // "dial", "read" or "heartbeat"
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socket: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CloseError reports a close handshake that could not be completed. It only
// reaches Options.OnNonFatal.
type CloseError struct {
	Code int
	Err  error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("socket: close (code %d): %v", e.Code, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }
