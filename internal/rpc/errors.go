package rpc

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrDisconnected is returned for calls pending when the underlying
	// connection drops, and for calls issued after it has dropped.
	ErrDisconnected = errors.New("session disconnected")

	// ErrTimeout is returned when a call exceeds its deadline without a
	// response. The call's true outcome is unknown.
	ErrTimeout = errors.New("call timed out")

	// ErrClosed is returned for operations on an explicitly closed session.
	ErrClosed = errors.New("session closed")
)

// ConnectionError wraps a failure to establish a session: unreachable
// endpoint or handshake failure. Fatal to the current command.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteError is a JSON-RPC error returned by the node. Remote errors
// are never retried; the chain's detail is reported verbatim.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a network-level failure that may
// succeed on retry. Remote errors are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrTimeout)
}
