package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is delivered for calls issued while the channel
	// has no live connection. Calls fail fast rather than queue.
	ErrDisconnected = errors.New("rpc channel disconnected")
	// ErrTimeout is delivered when no response arrives within the
	// per-call deadline.
	ErrTimeout = errors.New("rpc call timed out")
	// ErrChannelClosed is delivered for calls issued after Close.
	ErrChannelClosed = errors.New("rpc channel closed")
)

// RemoteError is an error reported by the remote service itself, as
// opposed to a transport or addressing failure.
type RemoteError struct {
	Description string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Description)
}
