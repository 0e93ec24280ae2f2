package eventmap

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("eventmap: subscription not found")

	// ErrFrozen is returned when subscribing to an EventMap that has been
	// frozen for dispatch.
	ErrFrozen = errors.New("eventmap: event map is frozen")

	// ErrInvalidSubscription is returned for subscriptions missing an event
	// name, target, or method.
	ErrInvalidSubscription = errors.New("eventmap: invalid subscription")
)

// NotFoundError reports that no subscription exists for a qualified name.
type NotFoundError struct {
	Name string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("eventmap: no subscription for %q", e.Name)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DuplicateSubscriptionError reports a second registration for a qualified
// name under PolicyReject.
type DuplicateSubscriptionError struct {
	Existing Subscription
	Rejected Subscription
}

// Error returns the error message.
func (e *DuplicateSubscriptionError) Error() string {
	return fmt.Sprintf("eventmap: duplicate subscription for %q: already routed to %s, rejected %s",
		e.Existing.QualifiedName(), e.Existing.Handler(), e.Rejected.Handler())
}
