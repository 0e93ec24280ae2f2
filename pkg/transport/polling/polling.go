// Package polling implements the HTTP long-polling transport used when the
// client cannot upgrade to a full-duplex connection.
//
// The connection is created by the initial request, which receives a
// handshake:
//
//	{"id": "<connection id>", "transport": "polling"}
//
// The client then addresses the connection by id:
//
//	GET    drains buffered messages as a JSON array, waiting up to PollTimeout
//	POST   delivers one message or an array of messages
//	DELETE ends the connection
package polling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/vango-dev/cable/pkg/protocol"
	"github.com/vango-dev/cable/pkg/transport"
)

// Handshake is the body of the response to the connection-creating request.
type Handshake struct {
	ID        string         `json:"id"`
	Transport transport.Kind `json:"transport"`
}

// Factory builds polling adapters for plain HTTP requests.
type Factory struct {
	config *Config
	logger *slog.Logger
}

// NewFactory creates a Factory. A nil config uses DefaultConfig.
func NewFactory(config *Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		config: config.withDefaults(),
		logger: logger.With("component", "polling"),
	}
}

// Kind returns transport.KindPolling.
func (f *Factory) Kind() transport.Kind {
	return transport.KindPolling
}

// Accepts reports whether req is a non-upgrade request that did not ask for
// another transport.
func (f *Factory) Accepts(req *transport.Request) bool {
	if req.Transport != "" && req.Transport != transport.KindPolling {
		return false
	}
	return !req.Upgrade
}

// New creates an adapter that answers the handshake on req's writer.
func (f *Factory) New(req *transport.Request) (transport.Adapter, error) {
	if req.ResponseWriter == nil {
		return nil, errors.New("polling: request has no response writer")
	}
	return &Adapter{
		config:  f.config,
		logger:  f.logger,
		w:       req.ResponseWriter,
		buffer:  queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}, nil
}

// Adapter is one long-polling client.
type Adapter struct {
	config *Config
	logger *slog.Logger
	w      http.ResponseWriter

	sink transport.Sink

	mu     sync.Mutex
	buffer *queue.Queue // Encoded outbound messages
	closed bool
	idle   *time.Timer

	wake chan struct{}
	done chan struct{}

	// drained closes once the client can no longer collect output.
	drained   chan struct{}
	drainOnce sync.Once
	linger    *time.Timer
}

// Open writes the handshake and starts the idle timer.
func (a *Adapter) Open(ctx context.Context, sink transport.Sink) error {
	body, err := json.Marshal(Handshake{ID: sink.ID(), Transport: transport.KindPolling})
	if err != nil {
		return transport.NewTransportError(transport.KindPolling, "open", err)
	}

	a.w.Header().Set("Content-Type", "application/json")
	a.w.Header().Set("Cache-Control", "no-store")
	a.w.WriteHeader(http.StatusOK)
	if _, err := a.w.Write(body); err != nil {
		return transport.NewTransportError(transport.KindPolling, "open", err)
	}

	a.mu.Lock()
	a.sink = sink
	a.logger = a.logger.With("conn_id", sink.ID())
	a.idle = time.AfterFunc(a.config.IdleTimeout, a.expire)
	a.mu.Unlock()

	// The handshake writer belongs to a finished request.
	a.w = nil
	return nil
}

// expire ends a connection whose client stopped polling.
func (a *Adapter) expire() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.done)
	sink := a.sink
	a.mu.Unlock()

	a.markDrained()
	a.logger.Info("poll idle timeout")
	sink.OnClose()
}

// touch restarts the idle timer.
func (a *Adapter) touch() {
	a.mu.Lock()
	if !a.closed && a.idle != nil {
		a.idle.Reset(a.config.IdleTimeout)
	}
	a.mu.Unlock()
}

// Send buffers payload for the next poll.
func (a *Adapter) Send(payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return transport.NewTransportError(transport.KindPolling, "send", transport.ErrAdapterClosed)
	}
	if a.buffer.Length() >= a.config.MaxBuffered {
		return transport.NewTransportError(transport.KindPolling, "send", transport.ErrBufferFull)
	}
	a.buffer.Add(append([]byte(nil), payload...))

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close ends the connection from the server side. Messages still buffered
// go to the next poll; the poll after that gets 410 Gone. A client that does
// not come back within PollTimeout forfeits them.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.done)
	if a.idle != nil {
		a.idle.Stop()
	}
	a.linger = time.AfterFunc(a.config.PollTimeout, a.markDrained)
	return nil
}

// Drained implements transport.Drainer.
func (a *Adapter) Drained() <-chan struct{} {
	return a.drained
}

func (a *Adapter) markDrained() {
	a.drainOnce.Do(func() {
		a.mu.Lock()
		if a.linger != nil {
			a.linger.Stop()
		}
		a.mu.Unlock()
		close(a.drained)
	})
}

// Kind returns transport.KindPolling.
func (a *Adapter) Kind() transport.Kind {
	return transport.KindPolling
}

// Buffered returns the number of messages waiting for a poll.
func (a *Adapter) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer.Length()
}

// ServeHTTP handles a follow-up request addressed to this connection.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.touch()
	defer a.touch()

	switch r.Method {
	case http.MethodGet:
		a.servePoll(w, r)
	case http.MethodPost:
		a.serveSend(w, r)
	case http.MethodDelete:
		a.serveHangup(w)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *Adapter) servePoll(w http.ResponseWriter, r *http.Request) {
	timer := time.NewTimer(a.config.PollTimeout)
	defer timer.Stop()

	batch, closed := a.drain()
wait:
	for len(batch) == 0 && !closed {
		select {
		case <-a.wake:
		case <-a.done:
		case <-timer.C:
			break wait
		case <-r.Context().Done():
			return
		}
		batch, closed = a.drain()
	}

	if len(batch) == 0 && closed {
		a.markDrained()
		http.Error(w, "connection closed", http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(protocol.EncodeBatch(batch))
}

// drain removes every buffered message.
func (a *Adapter) drain() ([][]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.buffer.Length()
	batch := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, a.buffer.Remove().([]byte))
	}
	return batch, a.closed
}

func (a *Adapter) serveSend(w http.ResponseWriter, r *http.Request) {
	if a.isClosed() {
		a.markDrained()
		http.Error(w, "connection closed", http.StatusGone)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.MaxBodySize))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	messages, err := protocol.DecodeBatch(body)
	if err != nil {
		// A body that is not even an array still reaches the core so it
		// surfaces as a client_error like any other malformed message.
		messages = [][]byte{body}
	}
	for _, m := range messages {
		a.sink.OnMessage(m)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) serveHangup(w http.ResponseWriter) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.markDrained()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.closed = true
	close(a.done)
	if a.idle != nil {
		a.idle.Stop()
	}
	sink := a.sink
	a.mu.Unlock()

	a.markDrained()
	sink.OnClose()
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
