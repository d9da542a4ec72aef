// Package commands implements CLI commands for storagebench.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/storagebench/internal/logger"
)

// Execute runs the CLI.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "storagebench",
		Short: "Benchmark log storage plugins",
		Long: `storagebench writes a synthetic message workload to a storage plugin,
timing every batch write and sampling the allocator after each one.

Results are printed as CSV on standard output; logs go to standard error.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.SetLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (verbose, debug, info, warn, error)")

	root.AddCommand(
		versionCmd(version),
		runCmd(),
		sweepCmd(),
		verifyCmd(),
	)
	return root
}

func versionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storagebench version %s\n", version)
		},
	}
}
