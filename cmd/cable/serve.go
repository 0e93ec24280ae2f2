package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vango-dev/cable/internal/errors"
	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/middleware"
	"github.com/vango-dev/cable/pkg/server"
)

func serveCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the event server",
		Long: `Start the event server.

Settings are read from cable.yaml (or --config), then CABLE_*
environment variables, then flags.

Examples:
  cable serve
  cable serve --routes=routes.yaml --watch
  cable serve --address=:9000 --metrics
  CABLE_LOG_LEVEL=debug cable serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file (default ./cable.yaml)")
	cmd.Flags().StringP("address", "a", "", "Address to listen on")
	cmd.Flags().String("path", "", "Path connections are accepted on")
	cmd.Flags().StringP("routes", "r", "", "Routes file")
	cmd.Flags().BoolP("watch", "w", false, "Reload routes when the file changes")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics")
	cmd.Flags().Bool("tracing", false, "Trace dispatches with OpenTelemetry")
	cmd.Flags().String("policy", "", "Duplicate subscription policy (overwrite or reject)")

	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	table := eventmap.NewTable(a.routes)
	if a.cfg.WatchRoutes {
		go func() {
			err := table.Watch(ctx, a.cfg.Routes, a.logger, a.checkTargets,
				eventmap.WithPolicy(a.policy), eventmap.WithLogger(a.logger))
			if err != nil {
				a.logger.Error("route watch stopped", "error", err)
			}
		}()
	}

	mw := []server.Middleware{middleware.Logging(a.logger)}
	var serverOpts []server.Option

	var metrics *middleware.Metrics
	if a.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = middleware.NewMetrics(
			middleware.WithRegistry(reg),
			middleware.WithNamespace(a.cfg.Metrics.Namespace),
		)
		mw = append(mw, metrics.Middleware())
		serverOpts = append(serverOpts, server.WithMetricsGatherer(reg))
	}

	if a.cfg.Tracing.Enabled {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(newLogExporter(a.logger)),
		)
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				a.logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
		otel.SetTracerProvider(tp)
		mw = append(mw, middleware.OpenTelemetry(middleware.WithTracerProvider(tp)))
	}

	dispatcher := server.NewDispatcher(table, a.controllers, a.logger, server.WithMiddleware(mw...))
	srv := server.New(dispatcher, a.cfg.ServerConfig(), a.logger, serverOpts...)
	if metrics != nil {
		metrics.ObserveManager(srv.Manager())
	}

	success(os.Stderr, "serving %d routes on %s%s", a.routes.Len(), a.cfg.Address, a.cfg.Path)
	if err := srv.Run(ctx); err != nil {
		return errors.New("E140").Wrap(err).
			WithDetail(fmt.Sprintf("Listening on %s failed or the server stopped unexpectedly.", a.cfg.Address))
	}
	return nil
}
