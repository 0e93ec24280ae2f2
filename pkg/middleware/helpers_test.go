package middleware

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/server"
)

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestDispatcher routes "ok", "fail", "panic" and "chat.say" to a demo
// controller and installs mw.
func newTestDispatcher(t *testing.T, mw ...server.Middleware) *server.Dispatcher {
	t.Helper()
	routes, err := eventmap.Describe(func(m *eventmap.Mapper) {
		m.Subscribe("ok", "demo", "ok")
		m.Subscribe("fail", "demo", "fail")
		m.Subscribe("panic", "demo", "panic")
		m.Subscribe("missing", "demo", "missing")
		m.Namespace("chat", func(m *eventmap.Mapper) {
			m.Subscribe("say", "demo", "ok")
		})
		m.Subscribe(server.ClientError, "demo", "ok")
	})
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	controllers := server.NewControllers()
	controllers.RegisterActions("demo", server.Actions{
		"ok":    func(ctx *server.Context) error { return nil },
		"fail":  func(ctx *server.Context) error { return errBoom },
		"panic": func(ctx *server.Context) error { panic("kaboom") },
	})
	return server.NewDispatcher(routes, controllers, testLogger(), server.WithMiddleware(mw...))
}

func dispatch(d *server.Dispatcher, name string) server.Outcome {
	return d.Dispatch(context.Background(), server.NewEvent(nil, name, nil))
}

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

// gatheredValue returns the first sample of the named family in reg.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		switch {
		case m.Gauge != nil:
			return m.GetGauge().GetValue()
		case m.Counter != nil:
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %q not gathered", name)
	return 0
}
