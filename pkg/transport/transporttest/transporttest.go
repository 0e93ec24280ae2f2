// Package transporttest provides an in-memory transport for testing code
// built on the connection core.
//
//	factory := transporttest.NewFactory()
//	manager := server.NewConnectionManager(dispatcher, cfg, logger, factory)
//	conn, _ := manager.Accept(ctx, &transport.Request{})
//	factory.Last().DeliverMessage("change_username", map[string]any{"user_name": "Joe"})
//	factory.Last().Hangup()
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/vango-dev/cable/pkg/protocol"
	"github.com/vango-dev/cable/pkg/transport"
)

// Adapter is an in-memory transport.Adapter. Tests drive the inbound side
// with Deliver, Hangup and Fail, and inspect the outbound side with Sent.
type Adapter struct {
	// OpenErr, when set, is returned from Open.
	OpenErr error

	// SendErr, when set, is returned from every Send.
	SendErr error

	mu     sync.Mutex
	sink   transport.Sink
	sent   [][]byte
	opened bool
	closed bool
	notify chan struct{}
}

// New creates an unopened Adapter.
func New() *Adapter {
	return &Adapter{notify: make(chan struct{}, 1)}
}

// Open records sink.
func (a *Adapter) Open(ctx context.Context, sink transport.Sink) error {
	if a.OpenErr != nil {
		return a.OpenErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
	a.opened = true
	return nil
}

// Send records a copy of payload.
func (a *Adapter) Send(payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return transport.ErrAdapterClosed
	}
	if a.SendErr != nil {
		return a.SendErr
	}
	a.sent = append(a.sent, append([]byte(nil), payload...))
	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Kind returns transport.KindTest.
func (a *Adapter) Kind() transport.Kind {
	return transport.KindTest
}

// Sink returns the sink passed to Open, or nil.
func (a *Adapter) Sink() transport.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

// Opened reports whether Open succeeded.
func (a *Adapter) Opened() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opened
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Deliver pushes a raw client message to the sink.
func (a *Adapter) Deliver(payload []byte) {
	if sink := a.Sink(); sink != nil {
		sink.OnMessage(payload)
	}
}

// DeliverMessage encodes and pushes a client message.
func (a *Adapter) DeliverMessage(name string, data map[string]any) {
	a.Deliver(protocol.MustEncode(name, data))
}

// Hangup simulates the client closing the transport.
func (a *Adapter) Hangup() {
	if sink := a.Sink(); sink != nil {
		sink.OnClose()
	}
}

// Fail simulates a transport failure.
func (a *Adapter) Fail(err error) {
	if sink := a.Sink(); sink != nil {
		sink.OnError(err)
	}
}

// Sent returns copies of every payload sent so far.
func (a *Adapter) Sent() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.sent))
	copy(out, a.sent)
	return out
}

// SentMessages decodes every payload sent so far, skipping undecodable ones.
func (a *Adapter) SentMessages() []protocol.Message {
	var out []protocol.Message
	for _, raw := range a.Sent() {
		if msg, err := protocol.Decode(raw); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// WaitSent waits until at least n payloads have been sent or timeout expires.
func (a *Adapter) WaitSent(n int, timeout time.Duration) ([][]byte, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		sent := a.Sent()
		if len(sent) >= n {
			return sent, true
		}
		select {
		case <-a.notify:
		case <-deadline.C:
			sent = a.Sent()
			return sent, len(sent) >= n
		}
	}
}

// Factory builds Adapters and remembers them.
type Factory struct {
	// AcceptFunc decides whether a request is accepted. Nil accepts all.
	AcceptFunc func(*transport.Request) bool

	// NewAdapter builds each adapter. Nil uses New.
	NewAdapter func() *Adapter

	mu       sync.Mutex
	adapters []*Adapter
}

// NewFactory creates a Factory that accepts every request.
func NewFactory() *Factory {
	return &Factory{}
}

// Kind returns transport.KindTest.
func (f *Factory) Kind() transport.Kind {
	return transport.KindTest
}

// Accepts applies AcceptFunc.
func (f *Factory) Accepts(req *transport.Request) bool {
	if f.AcceptFunc == nil {
		return true
	}
	return f.AcceptFunc(req)
}

// New builds and records an adapter.
func (f *Factory) New(req *transport.Request) (transport.Adapter, error) {
	var a *Adapter
	if f.NewAdapter != nil {
		a = f.NewAdapter()
	} else {
		a = New()
	}
	f.mu.Lock()
	f.adapters = append(f.adapters, a)
	f.mu.Unlock()
	return a, nil
}

// Adapters returns every adapter built so far.
func (f *Factory) Adapters() []*Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Adapter(nil), f.adapters...)
}

// Last returns the most recently built adapter, or nil.
func (f *Factory) Last() *Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.adapters) == 0 {
		return nil
	}
	return f.adapters[len(f.adapters)-1]
}
