package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterClosed is returned by Send after the adapter has closed.
	ErrAdapterClosed = errors.New("transport: adapter closed")

	// ErrNotAccepted is returned when no factory accepts a request.
	ErrNotAccepted = errors.New("transport: no transport accepts the request")

	// ErrBufferFull is returned by buffering adapters when the client has
	// stopped draining its messages.
	ErrBufferFull = errors.New("transport: outbound buffer full")
)

// TransportError reports an open or send failure.
type TransportError struct {
	Kind Kind   // Transport that failed
	Op   string // "open" or "send"
	Err  error  // Underlying error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a TransportError. A nil err returns nil.
func NewTransportError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Kind: kind, Op: op, Err: err}
}
