package socknet

import (
	"errors"
	"fmt"

	"github.com/opd-ai/socknet/internal/handle"
)

// Operational failures
var (
	// ErrInitFailed indicates the network subsystem could not be initialized
	ErrInitFailed = errors.New("init failed")

	// ErrResolveFailed indicates an address could not be resolved
	ErrResolveFailed = errors.New("resolve failed")

	// ErrBindFailed indicates a socket could not be bound, listened or connected
	ErrBindFailed = errors.New("bind failed")

	// ErrAllocFailed indicates a socket set could not allocate its multiplexing handle
	ErrAllocFailed = errors.New("socket set allocation failed")
)

// Lifetime and usage errors
var (
	// ErrClosed indicates use of a socket or socket set after Close
	ErrClosed = handle.ErrClosed

	// ErrNetClosed indicates use of a Net after Quit
	ErrNetClosed = errors.New("network subsystem torn down")

	// ErrResourcesOpen indicates Quit was called while sockets or sets derived
	// from the Net are still open
	ErrResourcesOpen = errors.New("resources still open")

	// ErrRegistered indicates the socket is borrowed by a socket set
	ErrRegistered = errors.New("socket is registered in a socket set")

	// ErrNotListening indicates Accept on an initiating TCP socket
	ErrNotListening = errors.New("socket is not listening")

	// ErrNotConnected indicates stream I/O on a listening TCP socket
	ErrNotConnected = errors.New("socket is not connected")

	// ErrInvalidChannel indicates a UDP channel id outside the channel table
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrChannelUnbound indicates a send through a channel with no peer
	ErrChannelUnbound = errors.New("channel is not bound")
)

// SocketError represents a failed socket operation with additional context
type SocketError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *SocketError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("socknet %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("socknet %s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// newSocketError wraps cause with a sentinel so both are visible to errors.Is.
// A nil cause yields the sentinel alone.
func newSocketError(op, addr string, sentinel, cause error) *SocketError {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &SocketError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
