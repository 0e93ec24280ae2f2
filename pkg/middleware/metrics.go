package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/cable/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "cable").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "cable",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for one registry.
type Metrics struct {
	config  MetricsConfig
	factory promauto.Factory

	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	eventErrors   *prometheus.CounterVec
}

// NewMetrics registers the dispatch collectors.
//
// Metrics collected:
//   - cable_events_total: Counter of dispatched events by event and status
//   - cable_event_duration_seconds: Histogram of handler duration by event
//   - cable_event_errors_total: Counter of handler failures by event and error type
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		config:  config,
		factory: factory,

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_total",
			Help:        "Total number of dispatched events",
			ConstLabels: config.ConstLabels,
		}, []string{"event", "status"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_duration_seconds",
			Help:        "Handler duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"event"}),

		eventErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_errors_total",
			Help:        "Total number of handler failures",
			ConstLabels: config.ConstLabels,
		}, []string{"event", "error_type"}),
	}
}

// Middleware returns the dispatch middleware recording into m. The event
// label is the matched subscription's qualified name, so only routed events
// create label values.
func (m *Metrics) Middleware() server.Middleware {
	return server.MiddlewareFunc(func(ctx *server.Context, next func() error) error {
		event := ctx.Subscription().QualifiedName()

		start := time.Now()
		err := next()
		m.eventDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())

		status := "success"
		if err != nil {
			status = "error"
			m.eventErrors.WithLabelValues(event, categorizeError(err)).Inc()
		}
		m.eventsTotal.WithLabelValues(event, status).Inc()

		return err
	})
}

// ObserveManager registers connection gauges that read manager on scrape:
//   - cable_active_connections
//   - cable_connections_accepted_total
//   - cable_connections_closed_total
//   - cable_connections_rejected_total
func (m *Metrics) ObserveManager(manager *server.ConnectionManager) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   m.config.Namespace,
		Subsystem:   m.config.Subsystem,
		Name:        "active_connections",
		Help:        "Number of registered connections",
		ConstLabels: m.config.ConstLabels,
	}, func() float64 {
		return float64(manager.Count())
	})

	counters := []struct {
		name string
		help string
		read func(server.ManagerStats) uint64
	}{
		{"connections_accepted_total", "Total number of accepted connections",
			func(s server.ManagerStats) uint64 { return s.TotalAccepted }},
		{"connections_closed_total", "Total number of closed connections",
			func(s server.ManagerStats) uint64 { return s.TotalClosed }},
		{"connections_rejected_total", "Total number of rejected connection attempts",
			func(s server.ManagerStats) uint64 { return s.Rejected }},
	}
	for _, c := range counters {
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        c.name,
			Help:        c.help,
			ConstLabels: m.config.ConstLabels,
		}, func() float64 {
			return float64(c.read(manager.Stats()))
		})
	}
}

// Prometheus creates dispatch metrics middleware on a fresh Metrics.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	d := server.NewDispatcher(routes, controllers, logger,
//	    server.WithMiddleware(middleware.Prometheus(middleware.WithRegistry(reg))),
//	)
func Prometheus(opts ...MetricsOption) server.Middleware {
	return NewMetrics(opts...).Middleware()
}

// categorizeError returns a category for the error type.
// This prevents high-cardinality labels from error messages.
func categorizeError(err error) string {
	var he *server.HandlerError
	switch {
	case errors.Is(err, server.ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, server.ErrUnknownAction):
		return "unknown_action"
	case errors.As(err, &he) && he.Panic != nil:
		return "panic"
	default:
		return "handler"
	}
}
