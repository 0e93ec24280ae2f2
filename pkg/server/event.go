package server

import "maps"

// Lifecycle event names. They are synthesized by the core and dispatched
// through the same path as client events.
const (
	ClientConnected    = "client_connected"
	ClientDisconnected = "client_disconnected"
	ClientError        = "client_error"
)

// IsLifecycle reports whether name is one of the lifecycle event names.
func IsLifecycle(name string) bool {
	switch name {
	case ClientConnected, ClientDisconnected, ClientError:
		return true
	}
	return false
}

// Event is one routable event. Events are immutable once constructed.
type Event struct {
	name     string
	data     map[string]any
	conn     *Connection
	internal bool
}

// NewEvent creates a client-originated event. data is copied.
func NewEvent(conn *Connection, name string, data map[string]any) *Event {
	return &Event{name: name, data: copyData(data), conn: conn}
}

// newLifecycleEvent creates an internal event.
func newLifecycleEvent(conn *Connection, name string, data map[string]any) *Event {
	return &Event{name: name, data: copyData(data), conn: conn, internal: true}
}

// newErrorEvent builds the client_error event for a failure. event is the
// name of the event that failed, empty when it could not be decoded.
func newErrorEvent(conn *Connection, event string, description string) *Event {
	data := map[string]any{"error": description}
	if event != "" {
		data["event"] = event
	}
	return &Event{name: ClientError, data: data, conn: conn, internal: true}
}

// Name returns the namespace-qualified event name.
func (e *Event) Name() string {
	return e.name
}

// Data returns a copy of the event payload.
func (e *Event) Data() map[string]any {
	return copyData(e.data)
}

// Value returns one payload value.
func (e *Event) Value(key string) any {
	return e.data[key]
}

// String returns a payload value as a string, or "" if it is absent or
// not a string.
func (e *Event) String(key string) string {
	s, _ := e.data[key].(string)
	return s
}

// Connection returns the connection the event belongs to.
func (e *Event) Connection() *Connection {
	return e.conn
}

// Internal reports whether the event was synthesized by the core.
func (e *Event) Internal() bool {
	return e.internal
}

func copyData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return maps.Clone(data)
}
