package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vango-dev/cable/pkg/transport/polling"
	"github.com/vango-dev/cable/pkg/transport/websocket"
)

// ConnectionConfig holds configuration for individual connections.
type ConnectionConfig struct {
	// ReadTimeout is the maximum time to wait for client traffic on a
	// full-duplex connection. Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming message.
	// Default: 1MB.
	MaxMessageSize int64

	// MaxInboundQueue bounds the messages waiting for dispatch on one
	// connection. Messages beyond it are dropped and logged.
	// Default: 256.
	MaxInboundQueue int

	// EnableCompression negotiates WebSocket compression.
	EnableCompression bool
}

// DefaultConnectionConfig returns a ConnectionConfig with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    1 << 20,
		MaxInboundQueue:   256,
	}
}

// Clone returns a copy of the ConnectionConfig.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate reports the first invalid setting.
func (c *ConnectionConfig) Validate() error {
	switch {
	case c.ReadTimeout <= 0:
		return errors.New("server: connection read timeout must be positive")
	case c.WriteTimeout <= 0:
		return errors.New("server: connection write timeout must be positive")
	case c.HeartbeatInterval <= 0:
		return errors.New("server: heartbeat interval must be positive")
	case c.HeartbeatInterval >= c.ReadTimeout:
		return fmt.Errorf("server: heartbeat interval %s must be shorter than read timeout %s",
			c.HeartbeatInterval, c.ReadTimeout)
	case c.MaxMessageSize <= 0:
		return errors.New("server: max message size must be positive")
	case c.MaxInboundQueue <= 0:
		return errors.New("server: max inbound queue must be positive")
	}
	return nil
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080").
	// Default: ":8080".
	Address string

	// Path is where connections are accepted. Polling clients address
	// follow-up requests to Path + "/" + id.
	// Default: "/cable".
	Path string

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means unlimited. Default: 10000.
	MaxConnections int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// CheckOrigin validates the origin of upgrade requests.
	// Default: same origin only.
	CheckOrigin func(r *http.Request) bool

	// Connection configures individual connections.
	Connection *ConnectionConfig

	// Polling configures the long-polling transport.
	Polling *polling.Config

	// MetricsPath, when non-empty, serves Prometheus metrics from the
	// server's registry.
	MetricsPath string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		Path:              "/cable",
		MaxConnections:    10000,
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		CheckOrigin:       websocket.SameOriginCheck,
		Connection:        DefaultConnectionConfig(),
		Polling:           polling.DefaultConfig(),
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Connection = c.Connection.Clone()
	if c.Polling != nil {
		p := *c.Polling
		clone.Polling = &p
	}
	return &clone
}

// Validate reports the first invalid setting.
func (c *ServerConfig) Validate() error {
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("server: path %q must start with /", c.Path)
	}
	if c.MaxConnections < 0 {
		return errors.New("server: max connections must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("server: shutdown timeout must be positive")
	}
	if c.Connection == nil {
		return errors.New("server: connection config is required")
	}
	if c.MetricsPath != "" && c.MetricsPath == c.Path {
		return fmt.Errorf("server: metrics path %q collides with connection path", c.MetricsPath)
	}
	if err := c.Polling.Validate(); err != nil {
		return err
	}
	return c.Connection.Validate()
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithMaxConnections sets the maximum connections and returns the config
// for chaining.
func (c *ServerConfig) WithMaxConnections(max int) *ServerConfig {
	c.MaxConnections = max
	return c
}

// WithConnectionConfig sets the connection configuration and returns the
// config for chaining.
func (c *ServerConfig) WithConnectionConfig(cc *ConnectionConfig) *ServerConfig {
	c.Connection = cc
	return c
}

// websocketConfig derives the full-duplex transport settings.
func (c *ServerConfig) websocketConfig() *websocket.Config {
	cc := c.Connection
	if cc == nil {
		cc = DefaultConnectionConfig()
	}
	return &websocket.Config{
		CheckOrigin:       c.CheckOrigin,
		MaxMessageSize:    cc.MaxMessageSize,
		ReadTimeout:       cc.ReadTimeout,
		WriteTimeout:      cc.WriteTimeout,
		HeartbeatInterval: cc.HeartbeatInterval,
		EnableCompression: cc.EnableCompression,
	}
}

// pollingConfig derives the polling transport settings.
func (c *ServerConfig) pollingConfig() *polling.Config {
	var pc polling.Config
	if c.Polling != nil {
		pc = *c.Polling
	}
	if pc.MaxBodySize == 0 && c.Connection != nil {
		pc.MaxBodySize = c.Connection.MaxMessageSize
	}
	return &pc
}
