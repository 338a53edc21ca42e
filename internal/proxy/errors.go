package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity is logged when a connection is turned away because
	// MaxClients sessions are already open.
	ErrCapacity = errors.New("viewer capacity reached")
	// ErrSlowClient marks a session evicted for falling MaxPendingWrites
	// frames behind.
	ErrSlowClient = errors.New("slow client")
	// ErrReceiverFailed closes viewers of a universe whose receiver faulted.
	ErrReceiverFailed = errors.New("universe receiver failed")
	ErrServerClosed   = errors.New("proxy server closed")
)

// BindError is returned by Listen when the TCP port cannot be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to listen on %v: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AttachError carries a receiver start failure up to the session that asked
// for the universe.
type AttachError struct {
	Universe uint16
	Err      error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("failed to attach to universe %v: %v", e.Universe, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// HelloError is a missing or malformed handshake.
type HelloError struct {
	Reason string
	Err    error
}

func (e *HelloError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid hello: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid hello: %s", e.Reason)
}

func (e *HelloError) Unwrap() error { return e.Err }
