// Package cmd implements the sdlc-console command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workspace/sdlc-console/internal/logging"
)

var (
	logLevel  string
	logFormat string
	version   = "dev"
)

// rootCmd runs the server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "sdlc-console",
	Short: "Workspace backend for the SDLC automation dashboard",
	Long: `sdlc-console owns the per-project workspace session, watches the
workflow chat widget for bot turns and dispatches workflow tools.

  sdlc-console serve                          # run the HTTP/websocket API
  sdlc-console session check --project p1     # inspect a stored session`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		opts := logging.OptionsFromEnv()
		if logLevel != "" {
			opts.Level = logLevel
		}
		if logFormat != "" {
			opts.Format = logFormat
		}
		logging.Install(opts)
	},
	RunE: runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text); overrides LOG_FORMAT")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
