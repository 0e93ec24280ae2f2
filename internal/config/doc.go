// Package config loads cable.yaml for the cable command.
//
// Settings come from, in increasing priority: built-in defaults, the YAML
// file, CABLE_* environment variables (dots become underscores, so
// connection.read_timeout is CABLE_CONNECTION_READ_TIMEOUT) and command-line
// flags bound to the same viper instance.
//
// # Configuration File Structure
//
//	address: ":8080"
//	path: /cable
//	routes: routes.yaml
//	watch_routes: true
//	max_connections: 10000
//	shutdown_timeout: 30s
//	connection:
//	  max_message_size: 1048576
//	  max_inbound_queue: 256
//	  read_timeout: 60s
//	  write_timeout: 10s
//	  heartbeat_interval: 30s
//	polling:
//	  poll_timeout: 25s
//	  idle_timeout: 60s
//	  max_buffered: 1024
//	metrics:
//	  enabled: true
//	  path: /metrics
//	  namespace: cable
//	tracing:
//	  enabled: false
//	log:
//	  level: info
//	  format: text
//	routing:
//	  duplicate_policy: overwrite
//
// # Usage
//
//	v := config.NewViper()
//	cfg, err := config.Load(v, "")
//	if err != nil {
//	    return err
//	}
//	srv := server.New(dispatcher, cfg.ServerConfig(), cfg.NewLogger(os.Stderr))
package config
