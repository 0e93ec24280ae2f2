package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common connection and server error conditions.
var (
	// ErrConnectionClosed is returned when an operation is attempted on a
	// connection that is closing or closed.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrConnectionNotFound is returned when a connection ID does not exist.
	ErrConnectionNotFound = errors.New("server: connection not found")

	// ErrMaxConnectionsReached is returned when the maximum number of
	// connections is reached.
	ErrMaxConnectionsReached = errors.New("server: max connections reached")

	// ErrUnknownTarget is returned when a subscription names a controller
	// that is not registered.
	ErrUnknownTarget = errors.New("server: unknown controller target")

	// ErrUnknownAction is returned when a controller has no action for the
	// subscribed method.
	ErrUnknownAction = errors.New("server: unknown controller action")

	// ErrInboundQueueFull is returned when a connection's inbound queue is
	// full and a message is dropped.
	ErrInboundQueueFull = errors.New("server: inbound queue full")

	// ErrReservedEvent is returned when a client sends an event name that is
	// reserved for lifecycle events.
	ErrReservedEvent = errors.New("server: reserved event name")

	// ErrManagerClosed is returned by Accept after Shutdown.
	ErrManagerClosed = errors.New("server: connection manager shut down")
)

// ConnectionError wraps an error with connection context for debugging.
type ConnectionError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *ConnectionError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(connID, op string, err error) *ConnectionError {
	return &ConnectionError{
		ConnID: connID,
		Op:     op,
		Err:    err,
	}
}

// HandlerError reports a failure inside a resolved handler: a returned
// error, a panic, or a target that could not be invoked.
type HandlerError struct {
	ConnID  string
	Event   string // Qualified event name
	Handler string // "Target#method"
	Err     error  // Returned error, nil for panics
	Panic   any
	Stack   []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler %s failed on event %s in connection %s: %s",
		e.Handler, e.Event, e.ConnID, e.Description())
}

// Description returns the failure without connection context. It is what
// the client_error event carries.
func (e *HandlerError) Description() string {
	if e.Panic != nil {
		return fmt.Sprintf("panic: %v", e.Panic)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// NewHandlerError creates a HandlerError for a returned error.
func NewHandlerError(connID, event, handler string, err error) *HandlerError {
	return &HandlerError{
		ConnID:  connID,
		Event:   event,
		Handler: handler,
		Err:     err,
	}
}

// NewHandlerPanic creates a HandlerError for a recovered panic.
func NewHandlerPanic(connID, event, handler string, panicVal any, stack []byte) *HandlerError {
	return &HandlerError{
		ConnID:  connID,
		Event:   event,
		Handler: handler,
		Panic:   panicVal,
		Stack:   stack,
	}
}
