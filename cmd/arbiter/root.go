package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Arbiter - policy engine for federated learning platforms",
	Long: `Arbiter is the policy decision point of a federated learning platform.

It keeps a versioned store of declarative policies, evaluates them
against participant context with first-match priority semantics, tracks
per-participant trust scores, records an auditable event trail, and
reports compliance statistics.

The enforcer subcommand runs the edge-side fallback: it caches the last
known-good ruleset, keeps enforcing through network partitions, and
reconciles with the central service when connectivity returns.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
