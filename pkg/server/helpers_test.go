package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/transport"
	"github.com/vango-dev/cable/pkg/transport/transporttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// call is one recorded controller invocation.
type call struct {
	handler  string // "target#method"
	event    string
	connID   string
	internal bool
	data     map[string]any
}

// recorder collects invocations from recordingControllers.
type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) factory(target string) ControllerFactory {
	return func() Controller {
		return &recordingController{target: target, rec: r}
	}
}

func (r *recorder) record(c call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) forConn(id string) []call {
	var out []call
	for _, c := range r.snapshot() {
		if c.connID == id {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) handlers() []string {
	var out []string
	for _, c := range r.snapshot() {
		out = append(out, c.handler)
	}
	return out
}

// waitCalls waits until at least n calls for conn have been recorded.
func (r *recorder) waitCalls(t *testing.T, conn *Connection, n int) []call {
	t.Helper()
	var got []call
	waitFor(t, func() bool {
		got = r.forConn(conn.ID())
		return len(got) >= n
	}, "recorded calls")
	return got
}

// recordingController records every invocation. A few method names trigger
// special behavior.
type recordingController struct {
	target string
	rec    *recorder
}

var errBoom = errors.New("boom")

func (c *recordingController) Invoke(method string, ctx *Context) error {
	c.rec.record(call{
		handler:  c.target + "#" + method,
		event:    ctx.Event().Name(),
		connID:   connID(ctx.Connection()),
		internal: ctx.Event().Internal(),
		data:     ctx.Data(),
	})

	switch method {
	case "fail":
		return errBoom
	case "panic":
		panic("kaboom")
	case "echo":
		return ctx.Send("echo", ctx.Data())
	case "shout":
		return ctx.Broadcast("shout", ctx.Data())
	case "goodbye":
		err := ctx.Send("bye", nil)
		ctx.Connection().Close()
		return err
	case "slow":
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// harness wires a manager to the in-memory transport.
type harness struct {
	t          *testing.T
	rec        *recorder
	routes     *eventmap.EventMap
	dispatcher *Dispatcher
	factory    *transporttest.Factory
	manager    *ConnectionManager
	reported   *errorLog
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) report(ev *Event, err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func newHarness(t *testing.T, describe func(m *eventmap.Mapper), targets ...string) *harness {
	t.Helper()
	routes, err := eventmap.Describe(describe, eventmap.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	rec := &recorder{}
	controllers := NewControllers()
	for _, target := range targets {
		controllers.Register(target, rec.factory(target))
	}

	reported := &errorLog{}
	d := NewDispatcher(routes, controllers, testLogger(), WithErrorReporter(reported.report))
	f := transporttest.NewFactory()
	m := NewConnectionManager(d, nil, testLogger(), f)

	h := &harness{
		t:          t,
		rec:        rec,
		routes:     routes,
		dispatcher: d,
		factory:    f,
		manager:    m,
		reported:   reported,
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return h
}

func (h *harness) accept() (*Connection, *transporttest.Adapter) {
	h.t.Helper()
	conn, err := h.manager.Accept(context.Background(), &transport.Request{RemoteAddr: "127.0.0.1:4321"})
	if err != nil {
		h.t.Fatalf("Accept() error = %v", err)
	}
	return conn, h.factory.Last()
}

// lifecycleRoutes subscribes the lifecycle events to the "lifecycle" target.
func lifecycleRoutes(m *eventmap.Mapper) {
	m.Subscribe(ClientConnected, "lifecycle", "connected")
	m.Subscribe(ClientDisconnected, "lifecycle", "disconnected")
	m.Subscribe(ClientError, "lifecycle", "error")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitClosed(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s did not close", conn.ID())
	}
}
