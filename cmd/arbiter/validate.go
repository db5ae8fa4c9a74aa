package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"fedlearn-hq/arbiter/pkg/policy"
	"fedlearn-hq/arbiter/pkg/policy/store/source"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path...]",
	Short: "Validate policy definition files",
	Long: `Validate one or more policy definition files or directories.

Validation covers the whole set: duplicate ids, unknown operators and
action types, list-typed values for in/not_in, and compilable regular
expressions for matches. All problems are reported in one pass.

Examples:
  arbiter validate policies.yaml
  arbiter validate policies/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.Default()

	var all []*policy.Definition
	for _, path := range args {
		defs, err := source.NewFileSource(path, logger).Load(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, defs...)
	}

	if err := policy.ValidateSet(all); err != nil {
		return err
	}

	fmt.Printf("%d policies valid\n", len(all))
	return nil
}
