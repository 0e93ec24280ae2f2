package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/vango-dev/cable/pkg/eventmap"
)

// Resolver resolves qualified event names. *eventmap.EventMap and
// *eventmap.Table implement it.
type Resolver interface {
	Resolve(name string) (eventmap.Subscription, error)
}

// Status classifies a dispatch.
type Status int

const (
	// StatusHandled means the handler ran and returned nil.
	StatusHandled Status = iota

	// StatusNotFound means no subscription matched. It is not an error.
	StatusNotFound

	// StatusFailed means the handler failed or could not be invoked.
	StatusFailed

	// StatusDropped means the connection was no longer open.
	StatusDropped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusHandled:
		return "handled"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Outcome is the result of one dispatch.
type Outcome struct {
	Status       Status
	Subscription eventmap.Subscription // Zero unless a subscription matched
	Err          error                 // *eventmap.NotFoundError or *HandlerError
}

// ErrorReporter receives handler failures. It is the observability sink for
// failures that no client_error subscription handles.
type ErrorReporter func(ev *Event, err error)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMiddleware appends middleware to the invocation chain.
func WithMiddleware(mw ...Middleware) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, mw...)
	}
}

// WithErrorReporter sets the failure sink.
func WithErrorReporter(fn ErrorReporter) DispatcherOption {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// DispatchStats counts dispatch outcomes.
type DispatchStats struct {
	Handled  uint64
	NotFound uint64
	Failed   uint64
	Dropped  uint64
}

// Dispatcher resolves events and invokes their handlers.
type Dispatcher struct {
	routes      Resolver
	controllers *Controllers
	middleware  []Middleware
	onError     ErrorReporter
	logger      *slog.Logger

	handled  atomic.Uint64
	notFound atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// NewDispatcher creates a Dispatcher routing through routes to controllers.
func NewDispatcher(routes Resolver, controllers *Controllers, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if controllers == nil {
		controllers = NewControllers()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		routes:      routes,
		controllers: controllers,
		logger:      logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Controllers returns the controller registry.
func (d *Dispatcher) Controllers() *Controllers {
	return d.controllers
}

// Dispatch routes ev to its handler. A failed handler triggers a client_error
// event on the same connection. Failures while handling client_error, or the
// terminal event of a closed connection, are only reported.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) Outcome {
	if !ev.internal && ev.conn != nil && ev.conn.State() != StateOpen {
		d.dropped.Add(1)
		return Outcome{Status: StatusDropped, Err: ErrConnectionClosed}
	}

	out := d.dispatch(ctx, ev)
	if out.Status != StatusFailed {
		return out
	}

	d.report(ev, out.Err)
	if ev.name == ClientError {
		return out
	}
	// The terminal event has been dispatched; nothing may follow it.
	if ev.internal && ev.conn != nil && ev.conn.State() == StateClosed {
		return out
	}

	errEv := newErrorEvent(ev.conn, ev.name, describe(out.Err))
	if follow := d.dispatch(ctx, errEv); follow.Status == StatusFailed {
		d.report(errEv, follow.Err)
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *Event) Outcome {
	sub, err := d.routes.Resolve(ev.name)
	if err != nil {
		d.notFound.Add(1)
		d.logger.Debug("no subscription", "event", ev.name, "conn_id", connID(ev.conn))
		return Outcome{Status: StatusNotFound, Err: err}
	}

	controller, err := d.controllers.Build(sub.Target)
	if err != nil {
		d.failed.Add(1)
		return Outcome{
			Status:       StatusFailed,
			Subscription: sub,
			Err:          NewHandlerError(connID(ev.conn), ev.name, sub.Handler(), err),
		}
	}

	c := newContext(ctx, ev, sub, d.contextLogger(ev))
	if err := d.invoke(c, controller); err != nil {
		d.failed.Add(1)
		return Outcome{Status: StatusFailed, Subscription: sub, Err: err}
	}

	d.handled.Add(1)
	return Outcome{Status: StatusHandled, Subscription: sub}
}

// invoke runs the middleware chain and the action. Panics anywhere in the
// chain are recovered into a *HandlerError.
func (d *Dispatcher) invoke(c *Context, controller Controller) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = d.recovered(c, r)
		}
	}()

	err = ComposeMiddleware(c, d.middleware, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = d.recovered(c, r)
			}
		}()
		return controller.Invoke(c.sub.Method, c)
	})
	if err == nil {
		return nil
	}

	var he *HandlerError
	if errors.As(err, &he) {
		return err
	}
	return NewHandlerError(connID(c.event.conn), c.event.name, c.sub.Handler(), err)
}

func (d *Dispatcher) recovered(c *Context, r any) error {
	stack := debug.Stack()
	d.logger.Error("handler panic",
		"panic", r,
		"event", c.event.name,
		"handler", c.sub.Handler(),
		"conn_id", connID(c.event.conn),
		"stack", string(stack))
	return NewHandlerPanic(connID(c.event.conn), c.event.name, c.sub.Handler(), r, stack)
}

func (d *Dispatcher) report(ev *Event, err error) {
	d.logger.Error("handler failed",
		"event", ev.name,
		"conn_id", connID(ev.conn),
		"error", err)
	if d.onError != nil {
		d.onError(ev, err)
	}
}

func (d *Dispatcher) contextLogger(ev *Event) *slog.Logger {
	base := d.logger
	if ev.conn != nil {
		base = ev.conn.logger
	}
	return base.With("event", ev.name)
}

// Stats returns outcome counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Handled:  d.handled.Load(),
		NotFound: d.notFound.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
	}
}

// describe returns the client-facing description of a failure.
func describe(err error) string {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Description()
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func connID(c *Connection) string {
	if c == nil {
		return ""
	}
	return c.id
}
