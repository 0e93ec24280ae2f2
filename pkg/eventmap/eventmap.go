package eventmap

import (
	"fmt"
	"log/slog"
	"strings"
)

// Policy controls what happens when a qualified name is subscribed twice.
type Policy int

const (
	// PolicyOverwrite replaces the earlier subscription and logs a warning.
	PolicyOverwrite Policy = iota

	// PolicyReject fails the second registration with *DuplicateSubscriptionError.
	PolicyReject
)

// String returns the policy name used in configuration files.
func (p Policy) String() string {
	switch p {
	case PolicyOverwrite:
		return "overwrite"
	case PolicyReject:
		return "reject"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "overwrite" or "reject". The empty string selects
// PolicyOverwrite.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return PolicyOverwrite, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyOverwrite, fmt.Errorf("eventmap: unknown duplicate policy %q", s)
	}
}

// Subscription routes one qualified event name to a controller action.
type Subscription struct {
	// Namespace is the namespace path. Empty for root-level events.
	Namespace []string

	// Event is the unqualified event name.
	Event string

	// Target names the controller type, resolved through the server's
	// controller registry.
	Target string

	// Method names the action invoked on the controller.
	Method string
}

// QualifiedName joins the namespace path and event name with dots.
func (s Subscription) QualifiedName() string {
	if len(s.Namespace) == 0 {
		return s.Event
	}
	return strings.Join(s.Namespace, ".") + "." + s.Event
}

// Handler returns "Target#Method", the form used in logs.
func (s Subscription) Handler() string {
	return s.Target + "#" + s.Method
}

func (s Subscription) validate() error {
	if s.Event == "" || s.Target == "" || s.Method == "" {
		return fmt.Errorf("%w: event, target and method are required (got %q, %q, %q)",
			ErrInvalidSubscription, s.Event, s.Target, s.Method)
	}
	if strings.Contains(s.Event, ".") {
		return fmt.Errorf("%w: event name %q must not contain '.'; use a namespace",
			ErrInvalidSubscription, s.Event)
	}
	for _, seg := range s.Namespace {
		if seg == "" || strings.Contains(seg, ".") {
			return fmt.Errorf("%w: invalid namespace segment %q", ErrInvalidSubscription, seg)
		}
	}
	return nil
}

// Option configures an EventMap.
type Option func(*EventMap)

// WithPolicy sets the duplicate subscription policy.
func WithPolicy(p Policy) Option {
	return func(em *EventMap) {
		em.policy = p
	}
}

// WithLogger sets the logger used for overwrite warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(em *EventMap) {
		if logger != nil {
			em.logger = logger
		}
	}
}

// EventMap is an ordered set of subscriptions indexed by qualified name.
//
// Subscribe is not safe for concurrent use. Once Freeze has been called the
// map is immutable and Resolve may be called from any goroutine.
type EventMap struct {
	subs   []Subscription
	index  map[string]int
	policy Policy
	logger *slog.Logger
	frozen bool
}

// New creates an empty EventMap.
func New(opts ...Option) *EventMap {
	em := &EventMap{
		index:  make(map[string]int),
		policy: PolicyOverwrite,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(em)
	}
	em.logger = em.logger.With("component", "eventmap")
	return em
}

// Subscribe registers target#method for event under the namespace path.
func (em *EventMap) Subscribe(namespace []string, event, target, method string) error {
	return em.Add(Subscription{
		Namespace: namespace,
		Event:     event,
		Target:    target,
		Method:    method,
	})
}

// Add registers a subscription, applying the duplicate policy.
func (em *EventMap) Add(sub Subscription) error {
	if em.frozen {
		return ErrFrozen
	}
	if err := sub.validate(); err != nil {
		return err
	}
	if len(sub.Namespace) > 0 {
		sub.Namespace = append([]string(nil), sub.Namespace...)
	} else {
		sub.Namespace = nil
	}

	name := sub.QualifiedName()
	if i, exists := em.index[name]; exists {
		existing := em.subs[i]
		if em.policy == PolicyReject {
			return &DuplicateSubscriptionError{Existing: existing, Rejected: sub}
		}
		em.logger.Warn("subscription overwritten",
			"event", name,
			"previous", existing.Handler(),
			"handler", sub.Handler())
		em.subs[i] = sub
		return nil
	}

	em.index[name] = len(em.subs)
	em.subs = append(em.subs, sub)
	return nil
}

// Resolve returns the subscription for an exact qualified name.
func (em *EventMap) Resolve(name string) (Subscription, error) {
	if i, ok := em.index[name]; ok {
		return em.subs[i], nil
	}
	return Subscription{}, &NotFoundError{Name: name}
}

// Has reports whether name has a subscription.
func (em *EventMap) Has(name string) bool {
	_, ok := em.index[name]
	return ok
}

// Subscriptions returns the subscriptions in registration order.
func (em *EventMap) Subscriptions() []Subscription {
	out := make([]Subscription, len(em.subs))
	copy(out, em.subs)
	return out
}

// Len returns the number of subscriptions.
func (em *EventMap) Len() int {
	return len(em.subs)
}

// Policy returns the duplicate policy the map was built with.
func (em *EventMap) Policy() Policy {
	return em.policy
}

// Freeze makes the map read-only. Further Subscribe calls fail with ErrFrozen.
func (em *EventMap) Freeze() *EventMap {
	em.frozen = true
	return em
}

// Frozen reports whether Freeze has been called.
func (em *EventMap) Frozen() bool {
	return em.frozen
}

// FromSubscriptions builds a frozen EventMap from declarative tuples.
func FromSubscriptions(subs []Subscription, opts ...Option) (*EventMap, error) {
	em := New(opts...)
	for _, sub := range subs {
		if err := em.Add(sub); err != nil {
			return nil, err
		}
	}
	return em.Freeze(), nil
}
