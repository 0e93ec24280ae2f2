package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/cable/pkg/transport"
	"github.com/vango-dev/cable/pkg/transport/polling"
	"github.com/vango-dev/cable/pkg/transport/websocket"
)

// Server mounts a ConnectionManager on HTTP.
//
// Routes, relative to ServerConfig.Path:
//
//	GET|POST  {path}        accept a connection (upgrade or polling handshake)
//	GET       {path}/{id}   poll
//	POST      {path}/{id}   send
//	DELETE    {path}/{id}   hang up
type Server struct {
	config  *ServerConfig
	manager *ConnectionManager
	router  chi.Router
	metrics prometheus.Gatherer

	httpServer *http.Server
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsGatherer serves gatherer at ServerConfig.MetricsPath.
func WithMetricsGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = gatherer
	}
}

// WithFactories replaces the default transports. Factories are tried in
// order.
func WithFactories(factories ...transport.Factory) Option {
	return func(s *Server) {
		s.manager.factories = factories
	}
}

// New creates a Server dispatching through dispatcher. The default
// transports are WebSocket for upgrade requests and long-polling for
// everything else.
func New(dispatcher *Dispatcher, config *ServerConfig, logger *slog.Logger, opts ...Option) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.Path == "" {
			config.Path = defaults.Path
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
		if config.ReadHeaderTimeout == 0 {
			config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
		}
		if config.CheckOrigin == nil {
			config.CheckOrigin = defaults.CheckOrigin
		}
		if config.Connection == nil {
			config.Connection = defaults.Connection
		}
	}
	config.Path = strings.TrimSuffix(config.Path, "/")
	if logger == nil {
		logger = slog.Default()
	}

	manager := NewConnectionManager(dispatcher, config.Connection, logger,
		websocket.NewFactory(config.websocketConfig(), logger),
		polling.NewFactory(config.pollingConfig(), logger),
	)
	manager.SetMaxConnections(config.MaxConnections)

	s := &Server{
		config:  config,
		manager: manager,
		logger:  logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get(s.config.Path, s.handleAccept)
	r.Post(s.config.Path, s.handleAccept)
	r.Route(s.config.Path+"/{id}", func(r chi.Router) {
		r.Get("/", s.handleConnection)
		r.Post("/", s.handleConnection)
		r.Delete("/", s.handleConnection)
	})

	if s.config.MetricsPath != "" && s.metrics != nil {
		r.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	return r
}

// handleAccept hands a new connection attempt to the manager.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req := transport.RequestFromHTTP(w, r)
	_, err := s.manager.Accept(r.Context(), req)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrMaxConnectionsReached), errors.Is(err, ErrManagerClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, transport.ErrNotAccepted):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		// The adapter has already answered the request.
		s.logger.Debug("accept failed", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// handleConnection routes a follow-up request to the connection's adapter.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn := s.manager.lookup(chi.URLParam(r, "id"))
	if conn == nil {
		http.Error(w, ErrConnectionNotFound.Error(), http.StatusNotFound)
		return
	}
	h, ok := conn.adapter.(transport.RequestHandler)
	if !ok {
		http.Error(w, "connection does not accept requests", http.StatusBadRequest)
		return
	}
	h.ServeHTTP(w, r)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Manager returns the connection manager.
func (s *Server) Manager() *ConnectionManager {
	return s.manager
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Run listens on the configured address and serves until ctx is done or the
// process receives SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String(), "path", s.config.Path)
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown closes every connection, then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Warn("connections did not close in time", "error", err)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
