package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/engine"
)

// ApplyOptions holds apply command flags.
type ApplyOptions struct {
	DB string
}

// ApplyResult is the outcome of a committed batch.
type ApplyResult struct {
	Seq     int64    `json:"seq"`
	Updates int      `json:"updates"`
	Delta   []string `json:"delta"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <program> <facts>",
		Short: "Apply a fact batch to a database without a switch",
		Long: `Apply a fact batch as one transaction to the program state in --db and
print the resulting delta. The batch is journaled and can later be
inspected with history or checked with replay.

A batch that fails validation is rolled back and nothing is journaled.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runApply(rootOpts *RootOptions, opts *ApplyOptions, programPath, factsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	logger := newLogger(rootOpts, formatter.ErrWriter)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	spec, err := loadSpec(programPath)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to load program", err)
	}
	eng, err := openEngine(ctx, spec, opts.DB, logger)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to open engine", err)
	}
	defer eng.Stop()

	batch, err := loadFacts(factsPath, eng)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to load facts", err)
	}

	delta, err := eng.Apply(ctx, batch)
	if err != nil {
		_ = formatter.Failure(string(engine.CodeOf(err)), err.Error(), nil)
		return WrapExitError(ExitFailure, "batch rejected", err)
	}

	result := ApplyResult{Seq: eng.Seq(), Updates: len(batch), Delta: deltaLines(eng, delta)}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Applied %d update(s) as transaction %d\n", result.Updates, result.Seq)
	for _, line := range result.Delta {
		fmt.Fprintf(formatter.Writer, "  %s\n", line)
	}
	return nil
}
