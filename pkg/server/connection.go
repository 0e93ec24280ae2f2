package server

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/vango-dev/cable/pkg/protocol"
	"github.com/vango-dev/cable/pkg/transport"
)

// State is a connection lifecycle state.
type State int32

const (
	// StateConnecting is the state while the transport handshake runs.
	StateConnecting State = iota

	// StateOpen accepts and dispatches client events.
	StateOpen

	// StateClosing lets the in-flight dispatch finish and discards the rest.
	StateClosing

	// StateClosed is final. The terminal lifecycle event is dispatched on
	// entering it.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one client, independent of its transport. It implements
// transport.Sink for its adapter.
//
// Inbound messages are queued and dispatched one at a time by the
// connection's processing goroutine, so events from one connection are
// handled in arrival order.
type Connection struct {
	id         string
	adapter    transport.Adapter
	remoteAddr string
	createdAt  time.Time

	manager    *ConnectionManager
	dispatcher *Dispatcher
	config     *ConnectionConfig
	logger     *slog.Logger

	state        atomic.Int32
	lastActivity atomic.Int64

	mu       sync.Mutex
	inbound  *queue.Queue // Raw messages waiting for dispatch
	terminal *Event       // First terminal lifecycle event; set once
	wake     chan struct{}
	done     chan struct{}

	dataMu sync.RWMutex
	data   map[string]any

	received   atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
}

func newConnection(m *ConnectionManager, adapter transport.Adapter, req *transport.Request) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:         id,
		adapter:    adapter,
		remoteAddr: req.RemoteAddr,
		createdAt:  time.Now(),
		manager:    m,
		dispatcher: m.dispatcher,
		config:     m.config,
		logger: m.logger.With(
			"conn_id", id,
			"transport", string(adapter.Kind()),
		),
		inbound: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		data:    make(map[string]any),
	}
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether the connection accepts client events.
func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

// Transport returns the kind of the bound adapter.
func (c *Connection) Transport() transport.Kind {
	return c.adapter.Kind()
}

// RemoteAddr returns the client's network address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// CreatedAt returns when the connection was accepted.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// LastActivity returns when the connection last received a message.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Done is closed once the connection is closed and its terminal event has
// been dispatched.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// =============================================================================
// Connection data store
// =============================================================================

// Set stores a connection-scoped value.
func (c *Connection) Set(key string, value any) {
	c.dataMu.Lock()
	c.data[key] = value
	c.dataMu.Unlock()
}

// Get returns a connection-scoped value.
func (c *Connection) Get(key string) (any, bool) {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// GetString returns a connection-scoped string, or "" if it is absent or not
// a string.
func (c *Connection) GetString(key string) string {
	v, _ := c.Get(key)
	s, _ := v.(string)
	return s
}

// Delete removes a connection-scoped value.
func (c *Connection) Delete(key string) {
	c.dataMu.Lock()
	delete(c.data, key)
	c.dataMu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (c *Connection) Keys() []string {
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Outbound
// =============================================================================

// Send encodes and delivers one event to the client. A failed send does not
// close the connection.
func (c *Connection) Send(name string, data map[string]any) error {
	payload, err := protocol.Encode(name, data)
	if err != nil {
		return NewConnectionError(c.id, "encode", err)
	}
	return c.SendRaw(payload)
}

// SendRaw delivers an already encoded message.
func (c *Connection) SendRaw(payload []byte) error {
	if c.State() == StateClosed {
		return NewConnectionError(c.id, "send", ErrConnectionClosed)
	}
	if err := c.adapter.Send(payload); err != nil {
		c.logger.Debug("send failed", "error", err)
		return NewConnectionError(c.id, "send", err)
	}
	return nil
}

// =============================================================================
// transport.Sink
// =============================================================================

// OnMessage queues one raw client message. Messages arriving after the
// connection started closing are dropped.
func (c *Connection) OnMessage(payload []byte) {
	c.touch()

	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		c.dropped.Add(1)
		c.logger.Debug("message dropped", "reason", "closing")
		return
	}
	if c.inbound.Length() >= c.config.MaxInboundQueue {
		c.mu.Unlock()
		c.dropped.Add(1)
		c.logger.Warn("message dropped", "reason", ErrInboundQueueFull)
		return
	}
	c.inbound.Add(append([]byte(nil), payload...))
	c.mu.Unlock()

	c.received.Add(1)
	c.signal()
}

// OnClose starts a client-initiated close. client_disconnected is the
// terminal event.
func (c *Connection) OnClose() {
	c.beginClose(newLifecycleEvent(c, ClientDisconnected, nil))
}

// OnError starts a close caused by a transport failure. client_error is the
// terminal event; no client_disconnected follows.
func (c *Connection) OnError(err error) {
	c.logger.Error("transport error", "error", err)
	c.beginClose(newErrorEvent(c, "", describe(err)))
}

// Close closes the connection from the server side. The in-flight dispatch
// finishes, queued messages are discarded, and client_disconnected is
// dispatched before the adapter is closed.
func (c *Connection) Close() {
	c.beginClose(newLifecycleEvent(c, ClientDisconnected, nil))
}

// beginClose records the terminal event and moves to Closing. Only the
// first call has an effect.
func (c *Connection) beginClose(terminal *Event) bool {
	c.mu.Lock()
	if c.terminal != nil {
		c.mu.Unlock()
		return false
	}
	c.terminal = terminal

	discarded := c.inbound.Length()
	for c.inbound.Length() > 0 {
		c.inbound.Remove()
	}

	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
	}
	c.mu.Unlock()

	if discarded > 0 {
		c.dropped.Add(uint64(discarded))
		c.logger.Debug("queued messages discarded", "count", discarded)
	}
	c.signal()
	return true
}

func (c *Connection) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// =============================================================================
// Processing
// =============================================================================

// start opens the connection and runs its processing goroutine. The
// goroutine dispatches client_connected before anything else.
func (c *Connection) start() {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
	go c.run()
}

func (c *Connection) run() {
	defer close(c.done)

	ctx := context.Background()
	c.logger.Info("connection opened", "remote_addr", c.remoteAddr)
	c.dispatch(ctx, newLifecycleEvent(c, ClientConnected, nil))

	for {
		raw, terminal := c.next()
		if terminal != nil {
			c.finish(ctx, terminal)
			return
		}
		c.handle(ctx, raw)
	}
}

// next blocks until a message is queued or the connection starts closing.
// Closing takes priority over queued messages.
func (c *Connection) next() ([]byte, *Event) {
	for {
		c.mu.Lock()
		if c.terminal != nil {
			terminal := c.terminal
			c.mu.Unlock()
			return nil, terminal
		}
		if c.inbound.Length() > 0 {
			raw := c.inbound.Remove().([]byte)
			c.mu.Unlock()
			return raw, nil
		}
		c.mu.Unlock()
		<-c.wake
	}
}

// handle decodes and dispatches one raw message. Decode failures become
// client_error on this connection.
func (c *Connection) handle(ctx context.Context, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn("malformed message", "error", err)
		c.dispatch(ctx, newErrorEvent(c, "", err.Error()))
		return
	}
	if IsLifecycle(msg.Name) {
		c.logger.Warn("reserved event from client", "event", msg.Name)
		c.dispatch(ctx, newErrorEvent(c, msg.Name, ErrReservedEvent.Error()))
		return
	}
	c.dispatch(ctx, NewEvent(c, msg.Name, msg.Data))
}

func (c *Connection) dispatch(ctx context.Context, ev *Event) Outcome {
	out := c.dispatcher.Dispatch(ctx, ev)
	if out.Status == StatusDropped {
		c.dropped.Add(1)
	} else {
		c.dispatched.Add(1)
	}
	return out
}

// finish moves to Closed, dispatches the terminal event, closes the adapter
// and leaves the registry.
func (c *Connection) finish(ctx context.Context, terminal *Event) {
	c.state.Store(int32(StateClosed))
	c.dispatch(ctx, terminal)

	if err := c.adapter.Close(); err != nil && !errors.Is(err, transport.ErrAdapterClosed) {
		c.logger.Debug("adapter close failed", "error", err)
	}
	c.manager.remove(c)
	c.logger.Info("connection closed",
		"reason", terminal.name,
		"received", c.received.Load(),
		"dropped", c.dropped.Load())
}

// abort closes the adapter without waiting for the processing goroutine.
func (c *Connection) abort() {
	c.adapter.Close()
}

// ConnectionStats is a snapshot of a connection's counters.
type ConnectionStats struct {
	ID           string
	State        State
	Transport    transport.Kind
	RemoteAddr   string
	CreatedAt    time.Time
	LastActivity time.Time
	Received     uint64
	Dispatched   uint64
	Dropped      uint64
	Queued       int
}

// Stats returns a snapshot of the connection's counters.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	queued := c.inbound.Length()
	c.mu.Unlock()

	return ConnectionStats{
		ID:           c.id,
		State:        c.State(),
		Transport:    c.Transport(),
		RemoteAddr:   c.remoteAddr,
		CreatedAt:    c.createdAt,
		LastActivity: c.LastActivity(),
		Received:     c.received.Load(),
		Dispatched:   c.dispatched.Load(),
		Dropped:      c.dropped.Load(),
		Queued:       queued,
	}
}
