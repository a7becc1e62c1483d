package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose     bool
	jsonOutput  bool
	metricsAddr string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "remold",
		Short: "Remold - Declarative Data Restructuring",
		Long: `Remold evaluates declarative restructuring specs against nested data.

Features:
  - Deep access paths over maps, slices and structs
  - Mapping, sequence and pipeline specs with fallback chains
  - Typed specs via CUE documents
  - Light procedural expressions via Starlark
  - Extensible type registry for foreign data shapes
  - Target-spec traces for debugging failed evaluations`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	// Add subcommands
	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newRegistryCommand())

	return rootCmd
}
