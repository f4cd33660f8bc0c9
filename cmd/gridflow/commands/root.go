package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	policyPaths []string
	verbose     bool
	jsonOutput  bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gridflow",
		Short: "gridflow - demand-driven data pipelines",
		Long: `gridflow runs pipelines of algorithms over structured, unstructured,
AMR and multi-block datasets. Work is pulled from a terminal node: meta-data
flows downstream, update requests flow upstream and only the algorithms whose
inputs or parameters changed run again.

Features:
  - Pipeline descriptions in CUE, YAML or JSON
  - Streaming by pieces with ghost levels
  - Starlark and WASM programmable filters
  - Admission policies via OPA/rego
  - Execution history in SQLite
  - Prometheus metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policies", nil, "additional policy files or directories")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDotCommand())
	rootCmd.AddCommand(newPiecesCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newFiltersCommand())

	return rootCmd
}
