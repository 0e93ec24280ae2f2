package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-dev/cable/pkg/eventmap"
)

func routesCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the configured routes",
		Long: `Load the routes file the same way serve does and print every
subscription with its handler.

Examples:
  cable routes
  cable routes --routes=routes.yaml --policy=reject`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, configFile, io.Discard)
			if err != nil {
				return err
			}
			return printRoutes(cmd.OutOrStdout(), a.routes)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file (default ./cable.yaml)")
	cmd.Flags().StringP("routes", "r", "", "Routes file")
	cmd.Flags().String("policy", "", "Duplicate subscription policy (overwrite or reject)")

	return cmd
}

func printRoutes(w io.Writer, routes *eventmap.EventMap) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tHANDLER")
	for _, sub := range routes.Subscriptions() {
		fmt.Fprintf(tw, "%s\t%s\n", sub.QualifiedName(), sub.Handler())
	}
	fmt.Fprintf(tw, "\n%d routes (policy: %s)\n", routes.Len(), routes.Policy())
	return tw.Flush()
}
