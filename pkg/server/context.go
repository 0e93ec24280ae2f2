package server

import (
	"context"
	"log/slog"

	"github.com/vango-dev/cable/pkg/eventmap"
)

// Context is what a controller action receives. It is built for one
// dispatch and must not be retained after the action returns.
type Context struct {
	std    context.Context
	event  *Event
	sub    eventmap.Subscription
	logger *slog.Logger
	values map[any]any
}

func newContext(std context.Context, ev *Event, sub eventmap.Subscription, logger *slog.Logger) *Context {
	if std == nil {
		std = context.Background()
	}
	return &Context{std: std, event: ev, sub: sub, logger: logger}
}

// Event returns the event being dispatched.
func (c *Context) Event() *Event {
	return c.event
}

// Connection returns the connection the event came from.
func (c *Context) Connection() *Connection {
	return c.event.conn
}

// Subscription returns the subscription that matched the event.
func (c *Context) Subscription() eventmap.Subscription {
	return c.sub
}

// Data returns a copy of the event payload.
func (c *Context) Data() map[string]any {
	return c.event.Data()
}

// Param returns one payload value.
func (c *Context) Param(key string) any {
	return c.event.Value(key)
}

// Send delivers an event to the current connection.
func (c *Context) Send(name string, data map[string]any) error {
	return c.Connection().Send(name, data)
}

// Broadcast delivers an event to every open connection.
func (c *Context) Broadcast(name string, data map[string]any) error {
	return c.BroadcastTo(name, data, nil)
}

// BroadcastTo delivers an event to every connection matching pred.
func (c *Context) BroadcastTo(name string, data map[string]any, pred Predicate) error {
	conn := c.Connection()
	if conn == nil || conn.manager == nil {
		return ErrConnectionNotFound
	}
	return conn.manager.Broadcast(c.std, name, data, pred)
}

// Logger returns a logger carrying the connection and event.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// StdContext returns the standard context for the dispatch.
func (c *Context) StdContext() context.Context {
	return c.std
}

// SetStdContext replaces the standard context. Middleware uses it to pass
// trace spans and deadlines to downstream calls.
func (c *Context) SetStdContext(ctx context.Context) {
	c.std = ctx
}

// SetValue stores a dispatch-scoped value.
func (c *Context) SetValue(key, value any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

// Value returns a dispatch-scoped value.
func (c *Context) Value(key any) any {
	return c.values[key]
}
