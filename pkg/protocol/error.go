package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage is matched by every *MalformedMessageError.
var ErrMalformedMessage = errors.New("protocol: malformed message")

// MalformedMessageError reports a wire payload that could not be decoded.
type MalformedMessageError struct {
	// Reason describes what was wrong with the payload.
	Reason string

	// Size is the length of the rejected payload in bytes.
	Size int
}

// Error returns the error message.
func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("protocol: malformed message (%d bytes): %s", e.Size, e.Reason)
}

// Is reports whether target is ErrMalformedMessage.
func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func malformed(data []byte, format string, args ...any) *MalformedMessageError {
	return &MalformedMessageError{
		Reason: fmt.Sprintf(format, args...),
		Size:   len(data),
	}
}
