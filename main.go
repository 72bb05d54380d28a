package main

import (
	"fmt"
	"os"

	"blockandfocus/cmd"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	opts := &cmd.Options{}

	rootCmd := &cobra.Command{
		Use:   "blockandfocus",
		Short: "Host-local DNS interceptor that enforces a domain blocklist",
		Long: `BlockAndFocus is a privileged DNS resolver that answers queries for
blocked domains with a non-routable address and forwards everything else
to a fixed upstream resolver. A local control socket lets the companion
app inspect state, edit the blocklist and schedule, and request a timed
bypass after solving an arithmetic challenge.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.Run(opts)
		},
	}

	rootCmd.Flags().BoolVar(&opts.Dev, "dev", false, "run in development mode (unprivileged port and paths)")
	rootCmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path (overrides the mode default)")
	rootCmd.Flags().IntVar(&opts.Port, "port", 0, "override the DNS listen port")
	rootCmd.Flags().StringVar(&opts.LogLevel, "log-level", "info", "log verbosity (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (disabled when empty)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
