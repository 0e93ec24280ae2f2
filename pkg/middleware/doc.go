// Package middleware provides dispatch middleware for cable servers.
//
// This package includes:
//   - OpenTelemetry tracing middleware
//   - Prometheus metrics middleware and connection gauges
//   - Structured dispatch logging
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware starts a span for every routed event. Spans
// carry the qualified event name, the handler, the connection id and the
// transport.
//
//	d := server.NewDispatcher(routes, controllers, logger,
//	    server.WithMiddleware(middleware.OpenTelemetry(
//	        middleware.WithTracerProvider(tp),
//	        middleware.WithEventFilter(func(ctx *server.Context) bool {
//	            return !ctx.Event().Internal()
//	        }),
//	    )),
//	)
//
// # Prometheus Metrics
//
// Metrics are registered on the configured registry:
//   - cable_events_total: Dispatched events by event and status
//   - cable_event_duration_seconds: Handler duration histogram
//   - cable_event_errors_total: Handler failures by error type
//   - cable_active_connections: Registered connections (ObserveManager)
//
//	reg := prometheus.NewRegistry()
//	metrics := middleware.NewMetrics(middleware.WithRegistry(reg))
//	d := server.NewDispatcher(routes, controllers, logger,
//	    server.WithMiddleware(metrics.Middleware()),
//	)
//	srv := server.New(d, cfg, logger, server.WithMetricsGatherer(reg))
//	metrics.ObserveManager(srv.Manager())
//
// # Context Propagation
//
// The tracing middleware replaces ctx.StdContext() with the span context, so
// database drivers and HTTP clients inherit the trace:
//
//	req, _ := http.NewRequestWithContext(ctx.StdContext(), "GET", url, nil)
package middleware
