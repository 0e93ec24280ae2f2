package errors

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/server"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryRouting Category = "routing"
	CategoryServer  Category = "server"
	CategoryCLI     Category = "cli"
)

// Location represents a file location.
type Location struct {
	File string
	Line int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// CableError is a structured startup error with a code, a suggestion and
// an optional example.
type CableError struct {
	// Code is a unique error identifier (e.g., "E122").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file the error refers to, if any.
	Location *Location

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Example shows the correct form, e.g. a YAML snippet.
	Example string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *CableError) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *CableError) Unwrap() error {
	return e.Wrapped
}

// WithFile records the file the error refers to. An empty path is ignored.
func (e *CableError) WithFile(path string) *CableError {
	if path == "" {
		return e
	}
	e.Location = &Location{File: path}
	return e
}

// WithLocation records a file and line.
func (e *CableError) WithLocation(path string, line int) *CableError {
	e.Location = &Location{File: path, Line: line}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *CableError) WithSuggestion(s string) *CableError {
	e.Suggestion = s
	return e
}

// WithExample adds an example to the error.
func (e *CableError) WithExample(ex string) *CableError {
	e.Example = ex
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *CableError) WithDetail(d string) *CableError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *CableError) Wrap(err error) *CableError {
	e.Wrapped = err
	return e
}

// New creates a CableError from a registered error code.
func New(code string) *CableError {
	template, ok := registry[code]
	if !ok {
		return &CableError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &CableError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new CableError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *CableError {
	return &CableError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a CableError. Errors that are already a
// *CableError are returned unchanged; known library errors get their own
// code, everything else gets code.
func FromError(err error, code string) *CableError {
	if err == nil {
		return nil
	}
	var ce *CableError
	if stderrors.As(err, &ce) {
		return ce
	}

	var dup *eventmap.DuplicateSubscriptionError
	switch {
	case stderrors.As(err, &dup):
		return New("E122").Wrap(err).
			WithDetail(fmt.Sprintf("%q is routed to %s and again to %s.",
				dup.Existing.QualifiedName(), dup.Existing.Handler(), dup.Rejected.Handler()))
	case stderrors.Is(err, eventmap.ErrInvalidSubscription):
		return New("E123").Wrap(err)
	case stderrors.Is(err, server.ErrUnknownTarget):
		return New("E124").Wrap(err)
	case stderrors.Is(err, os.ErrNotExist):
		return New("E120").Wrap(err)
	}
	return New(code).Wrap(err)
}
