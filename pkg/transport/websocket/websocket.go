// Package websocket implements the full-duplex transport on top of
// gorilla/websocket. Each text or binary frame from the client is one
// inbound message; each Send writes one text frame.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/cable/pkg/transport"
)

// Config holds WebSocket transport settings.
type Config struct {
	// ReadBufferSize and WriteBufferSize size the upgrader's I/O buffers.
	// Default: 4096.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin validates the request origin. Default: same origin only.
	CheckOrigin func(r *http.Request) bool

	// MaxMessageSize is the largest inbound frame accepted. Default: 64KB.
	MaxMessageSize int64

	// ReadTimeout is how long to wait for any client traffic, pongs included,
	// before the transport is considered failed. Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write. Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between server pings. It must be shorter
	// than ReadTimeout. Default: 30 seconds.
	HeartbeatInterval time.Duration

	// EnableCompression negotiates per-message compression.
	EnableCompression bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		MaxMessageSize:    64 * 1024,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	return &out
}

// Factory builds WebSocket adapters for upgrade requests.
type Factory struct {
	config   *Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewFactory creates a Factory. A nil config uses DefaultConfig.
func NewFactory(config *Config, logger *slog.Logger) *Factory {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       config.CheckOrigin,
			EnableCompression: config.EnableCompression,
		},
		logger: logger.With("component", "websocket"),
	}
}

// Kind returns transport.KindWebSocket.
func (f *Factory) Kind() transport.Kind {
	return transport.KindWebSocket
}

// Accepts reports whether req asks for a WebSocket upgrade and did not
// explicitly request another transport.
func (f *Factory) Accepts(req *transport.Request) bool {
	if req.Transport != "" && req.Transport != transport.KindWebSocket {
		return false
	}
	return req.Upgrade
}

// New creates an adapter bound to the request's raw handles.
func (f *Factory) New(req *transport.Request) (transport.Adapter, error) {
	if req.ResponseWriter == nil || req.HTTPRequest == nil {
		return nil, errors.New("websocket: request has no HTTP handles")
	}
	return &Adapter{
		factory: f,
		w:       req.ResponseWriter,
		r:       req.HTTPRequest,
		done:    make(chan struct{}),
	}, nil
}

// Adapter is one WebSocket client.
type Adapter struct {
	factory *Factory
	w       http.ResponseWriter
	r       *http.Request

	conn    *websocket.Conn
	writeMu sync.Mutex // Serializes frame writes
	closed  atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// Open upgrades the HTTP connection and starts the read and heartbeat loops.
func (a *Adapter) Open(ctx context.Context, sink transport.Sink) error {
	conn, err := a.factory.upgrader.Upgrade(a.w, a.r, nil)
	if err != nil {
		return transport.NewTransportError(transport.KindWebSocket, "open", err)
	}
	cfg := a.factory.config

	a.conn = conn
	a.logger = a.factory.logger.With("conn_id", sink.ID())

	conn.SetReadLimit(cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	go a.readLoop(sink)
	go a.heartbeatLoop()
	return nil
}

// readLoop delivers frames to sink until the connection ends.
func (a *Adapter) readLoop(sink transport.Sink) {
	cfg := a.factory.config
	for {
		_, msg, err := a.conn.ReadMessage()
		if err != nil {
			if a.closed.Load() {
				// Server-side Close; the core already knows.
				return
			}
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
				websocket.CloseAbnormalClosure) {
				sink.OnClose()
			} else {
				a.logger.Debug("read error", "error", err)
				sink.OnError(transport.NewTransportError(transport.KindWebSocket, "read", err))
			}
			a.shutdown()
			return
		}

		a.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		sink.OnMessage(msg)
	}
}

// heartbeatLoop sends pings until the adapter closes.
func (a *Adapter) heartbeatLoop() {
	cfg := a.factory.config
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := a.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				a.logger.Debug("ping failed", "error", err)
				return
			}
		case <-a.done:
			return
		}
	}
}

// Send writes payload as one text frame.
func (a *Adapter) Send(payload []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.conn == nil || a.closed.Load() {
		return transport.NewTransportError(transport.KindWebSocket, "send", transport.ErrAdapterClosed)
	}
	a.conn.SetWriteDeadline(time.Now().Add(a.factory.config.WriteTimeout))
	if err := a.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return transport.NewTransportError(transport.KindWebSocket, "send", err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.done)
	if a.conn == nil {
		return nil
	}

	a.writeMu.Lock()
	a.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	a.writeMu.Unlock()
	return a.conn.Close()
}

// shutdown releases resources after the client side ended the connection.
func (a *Adapter) shutdown() {
	if a.closed.Swap(true) {
		return
	}
	close(a.done)
	a.conn.Close()
}

// Kind returns transport.KindWebSocket.
func (a *Adapter) Kind() transport.Kind {
	return transport.KindWebSocket
}
