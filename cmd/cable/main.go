// Command cable serves the chat demo controllers over WebSocket and HTTP
// long-polling.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/cable/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cable",
		Short: "Transport-agnostic real-time event router",
		Long: `cable routes client events to server-side controllers.

Clients connect over WebSocket, or over HTTP long-polling when the
upgrade is unavailable. Every message is a JSON pair [event, data]
routed through a YAML routes file:

  • Namespaced events (products.update_list)
  • Lifecycle events (client_connected, client_error, client_disconnected)
  • Route hot reload
  • Prometheus metrics and OpenTelemetry tracing`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		routesCmd(),
		versionCmd(),
	)
	return rootCmd
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
