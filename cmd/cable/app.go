package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vango-dev/cable/internal/chat"
	"github.com/vango-dev/cable/internal/config"
	"github.com/vango-dev/cable/internal/errors"
	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/server"
)

// app is what serve and routes share: configuration, logger, routes and
// the controller registry.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	policy      eventmap.Policy
	routes      *eventmap.EventMap
	controllers *server.Controllers
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"address": "address",
	"path":    "path",
	"routes":  "routes",
	"watch":   "watch_routes",
	"metrics": "metrics.enabled",
	"tracing": "tracing.enabled",
	"policy":  "routing.duplicate_policy",
}

// bindFlags binds every flag in flagKeys that cmd defines.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

// loadApp reads configuration and routes and registers the controllers.
func loadApp(cmd *cobra.Command, configFile string, logOut io.Writer) (*app, error) {
	v := config.NewViper()
	if err := bindFlags(v, cmd); err != nil {
		return nil, errors.FromError(err, "E160")
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(logOut)

	policy, err := cfg.Policy()
	if err != nil {
		return nil, errors.New("E102").Wrap(err)
	}

	routes, err := eventmap.FromFile(cfg.Routes, eventmap.WithPolicy(policy), eventmap.WithLogger(logger))
	if err != nil {
		return nil, errors.FromError(err, "E121").WithFile(cfg.Routes)
	}

	controllers := server.NewControllers()
	chat.Register(controllers, chat.NewRoom(), chat.NewCatalog())

	a := &app{
		cfg:         cfg,
		logger:      logger,
		policy:      policy,
		routes:      routes,
		controllers: controllers,
	}
	if err := a.checkTargets(routes); err != nil {
		return nil, err
	}
	return a, nil
}

// checkTargets fails when a route names a controller that is not registered.
func (a *app) checkTargets(routes *eventmap.EventMap) error {
	for _, sub := range routes.Subscriptions() {
		if !a.controllers.Has(sub.Target) {
			return errors.New("E124").
				WithFile(a.cfg.Routes).
				WithDetail(fmt.Sprintf("%q is routed to %s, but no controller %q is registered. Registered: %v.",
					sub.QualifiedName(), sub.Handler(), sub.Target, a.controllers.Targets()))
		}
	}
	return nil
}
