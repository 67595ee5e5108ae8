package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/prototext"

	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/p4rt"
	"github.com/roach88/tablesync/internal/store"
	"github.com/roach88/tablesync/internal/translate"
)

// TranslateOptions holds translate command flags.
type TranslateOptions struct {
	P4Info             string
	DeleteOnRetraction bool
	Proto              bool
}

// TranslateResult is the dry-run outcome of one fact batch.
type TranslateResult struct {
	Delta  []string `json:"delta"`
	Writes []string `json:"writes"`
	Gaps   []GapRow `json:"gaps,omitempty"`
	Proto  []string `json:"proto,omitempty"`
}

// GapRow is a fact that produced no table write.
type GapRow struct {
	Reason   string `json:"reason"`
	Relation string `json:"relation"`
	Value    string `json:"value"`
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{}

	cmd := &cobra.Command{
		Use:   "translate <program> <facts>",
		Short: "Show the table writes a fact batch would produce",
		Long: `Apply a fact batch to an empty in-memory program and print the resulting
delta and the table writes it translates to. Nothing is written to a switch.

Facts that cannot be translated (no matching table, malformed action) are
listed as gaps. With --proto the writes are also printed as encoded
P4Runtime updates.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(rootOpts, opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.P4Info, "p4info", "", "P4Info text file of the target pipeline (required)")
	cmd.Flags().BoolVar(&opts.DeleteOnRetraction, "delete-on-retraction", false, "write retractions as DELETE")
	cmd.Flags().BoolVar(&opts.Proto, "proto", false, "print encoded P4Runtime updates")
	_ = cmd.MarkFlagRequired("p4info")

	return cmd
}

func runTranslate(rootOpts *RootOptions, opts *TranslateOptions, programPath, factsPath string, cmd *cobra.Command) error {
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
	_, pl, err := loadPipeline(opts.P4Info)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to load p4info", err)
	}

	eng, err := openEngine(ctx, spec, store.MemoryPath, logger)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to open engine", err)
	}
	defer eng.Stop()

	batch, err := loadFacts(factsPath, eng)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to load facts", err)
	}
	formatter.VerboseLog("Applying %d update(s)", len(batch))

	delta, err := eng.Apply(ctx, batch)
	if err != nil {
		_ = formatter.Failure(string(engine.CodeOf(err)), err.Error(), nil)
		return WrapExitError(ExitFailure, "batch rejected", err)
	}

	tr := translate.New(translate.Options{Logger: logger, DeleteOnRetraction: opts.DeleteOnRetraction})
	writes, gaps := tr.Translate(delta, pl.Tables)

	result := TranslateResult{Delta: deltaLines(eng, delta), Writes: []string{}}
	for _, w := range writes {
		result.Writes = append(result.Writes, w.String())
	}
	for _, g := range gaps {
		result.Gaps = append(result.Gaps, GapRow{
			Reason:   string(g.Reason),
			Relation: eng.RelationName(g.Relation),
			Value:    g.Value.String(),
		})
	}
	if opts.Proto {
		updates, err := p4rt.EncodeWrites(pl, writes)
		if err != nil {
			return formatter.fail(ErrCodeP4Info, "failed to encode writes", err)
		}
		for _, u := range updates {
			result.Proto = append(result.Proto, prototext.MarshalOptions{}.Format(u))
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	printTranslateResult(formatter.Writer, result)
	return nil
}

// deltaLines renders a delta one change per line.
func deltaLines(names engine.RelationNamer, d ir.Delta) []string {
	text := strings.TrimSuffix(engine.FormatDelta(names, d), "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

func printTranslateResult(w io.Writer, r TranslateResult) {
	fmt.Fprintf(w, "Delta (%d change(s)):\n", len(r.Delta))
	for _, line := range r.Delta {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintf(w, "Writes (%d):\n", len(r.Writes))
	for _, line := range r.Writes {
		fmt.Fprintf(w, "  %s\n", line)
	}
	if len(r.Gaps) > 0 {
		fmt.Fprintf(w, "Gaps (%d):\n", len(r.Gaps))
		for _, g := range r.Gaps {
			fmt.Fprintf(w, "  %s %s %s\n", g.Reason, g.Relation, g.Value)
		}
	}
	for _, p := range r.Proto {
		fmt.Fprintf(w, "---\n%s\n", p)
	}
}
