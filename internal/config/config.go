package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vango-dev/cable/internal/errors"
	"github.com/vango-dev/cable/pkg/eventmap"
	"github.com/vango-dev/cable/pkg/server"
)

const (
	// ConfigName is the base name of the configuration file.
	ConfigName = "cable"

	// EnvPrefix prefixes environment overrides, e.g. CABLE_CONNECTION_READ_TIMEOUT.
	EnvPrefix = "CABLE"

	// DefaultRoutesFile is the routes file used when none is configured.
	DefaultRoutesFile = "routes.yaml"
)

// Config represents the complete cable.yaml configuration.
type Config struct {
	// Address is the listen address.
	Address string `mapstructure:"address"`

	// Path is where connections are accepted.
	Path string `mapstructure:"path"`

	// Routes is the YAML routes file.
	Routes string `mapstructure:"routes"`

	// WatchRoutes reloads Routes when the file changes.
	WatchRoutes bool `mapstructure:"watch_routes"`

	// MaxConnections bounds concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Connection ConnectionConfig `mapstructure:"connection"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
	Routing    RoutingConfig    `mapstructure:"routing"`

	// file is the config file that was read, if any.
	file string
}

// ConnectionConfig contains per-connection limits.
type ConnectionConfig struct {
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	MaxInboundQueue   int           `mapstructure:"max_inbound_queue"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// PollingConfig contains long-polling transport settings.
type PollingConfig struct {
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	MaxBuffered int           `mapstructure:"max_buffered"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `mapstructure:"level"`

	// Format is text or json.
	Format string `mapstructure:"format"`
}

// RoutingConfig controls how the routes file is loaded.
type RoutingConfig struct {
	// DuplicatePolicy is overwrite or reject.
	DuplicatePolicy string `mapstructure:"duplicate_policy"`
}

// Default returns the configuration used when no file or override is set.
func Default() *Config {
	sc := server.DefaultServerConfig()
	return &Config{
		Address:         sc.Address,
		Path:            sc.Path,
		Routes:          DefaultRoutesFile,
		MaxConnections:  sc.MaxConnections,
		ShutdownTimeout: sc.ShutdownTimeout,
		Connection: ConnectionConfig{
			MaxMessageSize:    sc.Connection.MaxMessageSize,
			MaxInboundQueue:   sc.Connection.MaxInboundQueue,
			WriteTimeout:      sc.Connection.WriteTimeout,
			ReadTimeout:       sc.Connection.ReadTimeout,
			HeartbeatInterval: sc.Connection.HeartbeatInterval,
		},
		Polling: PollingConfig{
			PollTimeout: sc.Polling.PollTimeout,
			IdleTimeout: sc.Polling.IdleTimeout,
			MaxBuffered: sc.Polling.MaxBuffered,
		},
		Metrics: MetricsConfig{
			Path:      "/metrics",
			Namespace: "cable",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Routing: RoutingConfig{
			DuplicatePolicy: eventmap.PolicyOverwrite.String(),
		},
	}
}

// SetDefaults registers default values with v. Every key must have a
// default for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("address", d.Address)
	v.SetDefault("path", d.Path)
	v.SetDefault("routes", d.Routes)
	v.SetDefault("watch_routes", d.WatchRoutes)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("connection.max_message_size", d.Connection.MaxMessageSize)
	v.SetDefault("connection.max_inbound_queue", d.Connection.MaxInboundQueue)
	v.SetDefault("connection.write_timeout", d.Connection.WriteTimeout)
	v.SetDefault("connection.read_timeout", d.Connection.ReadTimeout)
	v.SetDefault("connection.heartbeat_interval", d.Connection.HeartbeatInterval)

	v.SetDefault("polling.poll_timeout", d.Polling.PollTimeout)
	v.SetDefault("polling.idle_timeout", d.Polling.IdleTimeout)
	v.SetDefault("polling.max_buffered", d.Polling.MaxBuffered)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("routing.duplicate_policy", d.Routing.DuplicatePolicy)
}

// NewViper returns a viper instance with defaults and CABLE_ environment
// overrides installed.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (or cable.yaml from the working directory when file is
// empty) into v and returns the validated configuration. A missing
// cable.yaml is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !stderrors.As(err, &notFound) {
			return nil, errors.New("E100").WithFile(file).Wrap(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("E100").WithFile(v.ConfigFileUsed()).Wrap(err)
	}
	cfg.file = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// File returns the config file that was read, or "" when only defaults and
// environment were used.
func (c *Config) File() string {
	return c.file
}

// Validate checks the settings that would otherwise surface late.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return errors.New("E102").WithFile(c.file).Wrap(err)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.New("E101").WithFile(c.file).Wrap(err).
			WithSuggestion("Set log.level to debug, info, warn or error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.New("E101").WithFile(c.file).
			Wrap(fmt.Errorf("config: unknown log format %q", c.Log.Format)).
			WithSuggestion("Set log.format to text or json")
	}
	if err := c.ServerConfig().Validate(); err != nil {
		return errors.New("E101").WithFile(c.file).Wrap(err)
	}
	return nil
}

// Policy returns the configured duplicate policy.
func (c *Config) Policy() (eventmap.Policy, error) {
	return eventmap.ParsePolicy(c.Routing.DuplicatePolicy)
}

// ServerConfig maps the file settings onto a server.ServerConfig.
func (c *Config) ServerConfig() *server.ServerConfig {
	sc := server.DefaultServerConfig()
	sc.Address = c.Address
	sc.Path = c.Path
	sc.MaxConnections = c.MaxConnections
	sc.ShutdownTimeout = c.ShutdownTimeout

	sc.Connection.MaxMessageSize = c.Connection.MaxMessageSize
	sc.Connection.MaxInboundQueue = c.Connection.MaxInboundQueue
	sc.Connection.WriteTimeout = c.Connection.WriteTimeout
	sc.Connection.ReadTimeout = c.Connection.ReadTimeout
	sc.Connection.HeartbeatInterval = c.Connection.HeartbeatInterval

	sc.Polling.PollTimeout = c.Polling.PollTimeout
	sc.Polling.IdleTimeout = c.Polling.IdleTimeout
	sc.Polling.MaxBuffered = c.Polling.MaxBuffered
	sc.Polling.MaxBodySize = c.Connection.MaxMessageSize

	if c.Metrics.Enabled {
		sc.MetricsPath = c.Metrics.Path
	}
	return sc
}

// NewLogger builds the process logger described by c.Log.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
	}
	return level, nil
}
