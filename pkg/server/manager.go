package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"github.com/vango-dev/cable/pkg/protocol"
	"github.com/vango-dev/cable/pkg/transport"
)

// defaultBroadcastWorkers bounds the goroutines one Broadcast fans out to.
const defaultBroadcastWorkers = 16

// Predicate selects connections for a broadcast.
type Predicate func(*Connection) bool

// IsOpen is the default broadcast predicate.
func IsOpen(c *Connection) bool {
	return c.IsOpen()
}

// Except selects open connections other than conn.
func Except(conn *Connection) Predicate {
	return func(c *Connection) bool {
		return c != conn && c.IsOpen()
	}
}

// OnTransport selects open connections on the given transport.
func OnTransport(kind transport.Kind) Predicate {
	return func(c *Connection) bool {
		return c.Transport() == kind && c.IsOpen()
	}
}

// ManagerStats contains connection manager statistics.
type ManagerStats struct {
	Active        int
	TotalAccepted uint64
	TotalClosed   uint64
	Rejected      uint64
	Peak          int
	ByTransport   map[transport.Kind]int
}

// ConnectionManager accepts connections and owns the live registry.
type ConnectionManager struct {
	dispatcher *Dispatcher
	factories  []transport.Factory
	config     *ConnectionConfig
	logger     *slog.Logger

	// Registry protected by mu
	conns   map[string]*Connection
	pending int // Accepts between the limit check and registration
	peak    int
	mu      sync.RWMutex

	// Closed connections whose adapter is still draining, protected by mu.
	// They are reachable for follow-up requests only.
	lingering map[string]*Connection

	maxConnections   int
	broadcastWorkers int
	closed           atomic.Bool

	totalAccepted atomic.Uint64
	totalClosed   atomic.Uint64
	rejected      atomic.Uint64

	// Callbacks
	onOpen  func(*Connection)
	onClose func(*Connection)
}

// NewConnectionManager creates a manager that dispatches through dispatcher
// and selects adapters from factories in order.
func NewConnectionManager(dispatcher *Dispatcher, config *ConnectionConfig, logger *slog.Logger, factories ...transport.Factory) *ConnectionManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		dispatcher:       dispatcher,
		factories:        factories,
		config:           config,
		logger:           logger.With("component", "connection_manager"),
		conns:            make(map[string]*Connection),
		lingering:        make(map[string]*Connection),
		broadcastWorkers: defaultBroadcastWorkers,
	}
}

// SetMaxConnections limits concurrent connections. 0 means unlimited.
func (m *ConnectionManager) SetMaxConnections(n int) {
	m.mu.Lock()
	m.maxConnections = n
	m.mu.Unlock()
}

// SetBroadcastWorkers bounds the fan-out of one Broadcast.
func (m *ConnectionManager) SetBroadcastWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.broadcastWorkers = n
}

// SetOnOpen sets a callback run after a connection is registered.
func (m *ConnectionManager) SetOnOpen(fn func(*Connection)) {
	m.onOpen = fn
}

// SetOnClose sets a callback run after a connection's terminal event.
func (m *ConnectionManager) SetOnClose(fn func(*Connection)) {
	m.onClose = fn
}

// Dispatcher returns the dispatcher connections use.
func (m *ConnectionManager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Accept selects a transport for req, opens it and registers the
// connection. If the transport cannot be opened the connection is never
// registered and no lifecycle event is dispatched.
func (m *ConnectionManager) Accept(ctx context.Context, req *transport.Request) (*Connection, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	factory := m.selectFactory(req)
	if factory == nil {
		m.rejected.Add(1)
		return nil, transport.ErrNotAccepted
	}

	if err := m.reserve(); err != nil {
		m.rejected.Add(1)
		return nil, err
	}

	adapter, err := factory.New(req)
	if err != nil {
		m.release()
		return nil, transport.NewTransportError(factory.Kind(), "open", err)
	}

	conn := newConnection(m, adapter, req)
	if err := adapter.Open(ctx, conn); err != nil {
		m.release()
		m.logger.Warn("transport open failed",
			"transport", string(factory.Kind()),
			"remote_addr", req.RemoteAddr,
			"error", err)
		return nil, transport.NewTransportError(factory.Kind(), "open", err)
	}

	m.register(conn)
	conn.start()

	if m.onOpen != nil {
		m.onOpen(conn)
	}
	return conn, nil
}

// selectFactory returns the first factory accepting req.
func (m *ConnectionManager) selectFactory(req *transport.Request) transport.Factory {
	for _, f := range m.factories {
		if f.Accepts(req) {
			return f
		}
	}
	return nil
}

func (m *ConnectionManager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxConnections > 0 && len(m.conns)+m.pending >= m.maxConnections {
		m.logger.Warn("max connections reached", "max", m.maxConnections)
		return ErrMaxConnectionsReached
	}
	m.pending++
	return nil
}

func (m *ConnectionManager) release() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	m.pending--
	m.conns[c.id] = c
	if len(m.conns) > m.peak {
		m.peak = len(m.conns)
	}
	m.mu.Unlock()
	m.totalAccepted.Add(1)
}

// remove is called by a connection once its terminal event is dispatched.
// An adapter that is still draining stays reachable through lookup until it
// reports drained.
func (m *ConnectionManager) remove(c *Connection) {
	drainer, draining := c.adapter.(transport.Drainer)

	m.mu.Lock()
	_, ok := m.conns[c.id]
	delete(m.conns, c.id)
	if ok && draining {
		m.lingering[c.id] = c
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if draining {
		go m.linger(c, drainer.Drained())
	}
	m.totalClosed.Add(1)
	if m.onClose != nil {
		m.onClose(c)
	}
}

func (m *ConnectionManager) linger(c *Connection, drained <-chan struct{}) {
	<-drained
	m.mu.Lock()
	delete(m.lingering, c.id)
	m.mu.Unlock()
}

// lookup returns the connection a follow-up request addresses: a registered
// one, or a closed one whose adapter is still draining.
func (m *ConnectionManager) lookup(id string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.conns[id]; ok {
		return c
	}
	return m.lingering[id]
}

// Lingering returns the number of closed connections still draining.
func (m *ConnectionManager) Lingering() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lingering)
}

// Get returns a connection by id, or nil.
func (m *ConnectionManager) Get(id string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

// Count returns the number of registered connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Connections returns a snapshot of the registered connections.
func (m *ConnectionManager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

// ForEach calls fn for each registered connection until fn returns false.
// fn runs on a snapshot, so it may close connections.
func (m *ConnectionManager) ForEach(fn func(*Connection) bool) {
	for _, c := range m.Connections() {
		if !fn(c) {
			return
		}
	}
}

// Broadcast encodes an event once and sends it to every connection matching
// pred (IsOpen when nil). Connections that close during the broadcast are
// skipped. Send failures are joined into the returned error.
func (m *ConnectionManager) Broadcast(ctx context.Context, name string, data map[string]any, pred Predicate) error {
	payload, err := protocol.Encode(name, data)
	if err != nil {
		return err
	}
	if pred == nil {
		pred = IsOpen
	}

	var (
		errsMu sync.Mutex
		errs   []error
	)
	p := pool.New().WithMaxGoroutines(m.broadcastWorkers)
	for _, c := range m.Connections() {
		if !pred(c) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errsMu.Lock()
			errs = append(errs, err)
			errsMu.Unlock()
			break
		}
		p.Go(func() {
			err := c.SendRaw(payload)
			if err == nil || errors.Is(err, ErrConnectionClosed) {
				return
			}
			errsMu.Lock()
			errs = append(errs, err)
			errsMu.Unlock()
		})
	}
	p.Wait()

	return errors.Join(errs...)
}

// Shutdown closes every connection and waits for their terminal events. If
// ctx expires first the remaining adapters are closed directly and ctx's
// error is returned.
func (m *ConnectionManager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)

	conns := m.Connections()
	for _, c := range conns {
		c.Close()
	}

	for _, c := range conns {
		select {
		case <-c.Done():
		case <-ctx.Done():
			for _, c := range conns {
				c.abort()
			}
			m.logger.Warn("shutdown deadline exceeded", "remaining", m.Count())
			return ctx.Err()
		}
	}

	m.logger.Info("connection manager shut down", "closed", len(conns))
	return nil
}

// Stats returns manager statistics.
func (m *ConnectionManager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byTransport := make(map[transport.Kind]int)
	for _, c := range m.conns {
		byTransport[c.Transport()]++
	}
	return ManagerStats{
		Active:        len(m.conns),
		TotalAccepted: m.totalAccepted.Load(),
		TotalClosed:   m.totalClosed.Load(),
		Rejected:      m.rejected.Load(),
		Peak:          m.peak,
		ByTransport:   byTransport,
	}
}
