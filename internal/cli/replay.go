package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	DB string
}

// ReplayResult holds the outcome of a replay check.
type ReplayResult struct {
	Transactions int  `json:"transactions"`
	Facts        int  `json:"facts"`
	Consistent   bool `json:"consistent"`

	// Missing facts are stored in --db but not rebuilt by replay; Extra
	// facts are rebuilt but not stored.
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`

	// HashMismatches lists seqs whose journaled batch hash does not match
	// the hash of their journaled updates under this program.
	HashMismatches []int64 `json:"hash_mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <program>",
		Short: "Rebuild state from the journal and compare it",
		Long: `Replay every journaled transaction in --db into a fresh in-memory program
and compare the rebuilt output relations with the ones stored in --db.

The program may differ from the one that recorded the journal as long as
it declares the same input relations.

Exit codes:
  0 - Rebuilt state matches the stored state
  1 - State diverged, or a batch hash does not match its updates
  2 - Command error (database not found, etc.)

Examples:
  tablesync replay l2.cue --db ./tablesync.db
  tablesync replay ./program --db ./tablesync.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(rootOpts *RootOptions, opts *ReplayOptions, programPath string, cmd *cobra.Command) error {
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

	st, err := openExistingStore(opts.DB)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to open database", err)
	}
	txs, err := st.ReadTransactions(ctx, 0)
	if err != nil {
		st.Close()
		return formatter.fail(ErrCodeStore, "failed to read journal", err)
	}
	recordedEng, err := engine.Open(ctx, st, *spec, engine.WithLogger(logger))
	if err != nil {
		st.Close()
		return formatter.fail(ErrCodeStore, "failed to open engine", err)
	}
	defer recordedEng.Stop()
	recorded, err := recordedEng.Snapshot(ctx)
	if err != nil {
		return formatter.fail(ErrCodeStore, "failed to read stored state", err)
	}

	replayEng, err := openEngine(ctx, spec, store.MemoryPath, logger)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to open engine", err)
	}
	defer replayEng.Stop()

	formatter.VerboseLog("Replaying %d transaction(s)", len(txs))
	if _, err := replayEng.Replay(ctx, txs); err != nil {
		_ = formatter.Failure(string(engine.CodeOf(err)), err.Error(), nil)
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	rebuilt, err := replayEng.Snapshot(ctx)
	if err != nil {
		return formatter.fail(ErrCodeStore, "failed to read rebuilt state", err)
	}

	result := ReplayResult{Transactions: len(txs), Facts: recorded.Len()}
	result.Missing, result.Extra = diffSnapshots(replayEng, recorded, rebuilt)
	result.HashMismatches = checkBatchHashes(replayEng, txs)
	result.Consistent = len(result.Missing) == 0 && len(result.Extra) == 0 && len(result.HashMismatches) == 0

	if !result.Consistent {
		if formatter.Format == "json" {
			_ = formatter.Failure(ErrCodeGeneric, "replay diverged from stored state", result)
		} else {
			printReplayResult(formatter.Writer, result)
		}
		return NewExitError(ExitFailure, "replay diverged from stored state")
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	printReplayResult(formatter.Writer, result)
	return nil
}

// diffSnapshots compares two snapshots by fact id. Both come from programs
// over the same spec, so relation ids agree.
func diffSnapshots(names engine.RelationNamer, recorded, rebuilt ir.Delta) (missing, extra []string) {
	render := func(rel ir.RelID, c ir.Change) string {
		return fmt.Sprintf("%s %s", names.RelationName(rel), c.Value)
	}
	keys := func(d ir.Delta, rel ir.RelID) map[string]bool {
		m := make(map[string]bool)
		for _, c := range d.Changes(rel) {
			m[c.Key] = true
		}
		return m
	}

	for _, rel := range recorded.Relations() {
		have := keys(rebuilt, rel)
		for _, c := range recorded.Changes(rel) {
			if !have[c.Key] {
				missing = append(missing, render(rel, c))
			}
		}
	}
	for _, rel := range rebuilt.Relations() {
		have := keys(recorded, rel)
		for _, c := range rebuilt.Changes(rel) {
			if !have[c.Key] {
				extra = append(extra, render(rel, c))
			}
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

// checkBatchHashes recomputes each transaction's batch hash from its
// journaled updates.
func checkBatchHashes(eng *engine.Program, txs []store.Transaction) []int64 {
	var mismatches []int64
	for _, tx := range txs {
		batch := make([]ir.Update, 0, len(tx.Entries))
		for _, e := range tx.Entries {
			id, _ := eng.RelationID(e.Relation)
			batch = append(batch, ir.Update{Kind: e.Kind, Relation: id, Value: e.Value})
		}
		hash, err := ir.BatchHash(batch)
		if err != nil || hash != tx.BatchHash {
			mismatches = append(mismatches, tx.Seq)
		}
	}
	return mismatches
}

func printReplayResult(w io.Writer, r ReplayResult) {
	if r.Consistent {
		fmt.Fprintf(w, "✓ Replayed %d transaction(s); %d stored fact(s) match\n", r.Transactions, r.Facts)
		return
	}
	fmt.Fprintf(w, "✗ Replay of %d transaction(s) diverged\n", r.Transactions)
	for _, f := range r.Missing {
		fmt.Fprintf(w, "  missing: %s\n", f)
	}
	for _, f := range r.Extra {
		fmt.Fprintf(w, "  extra:   %s\n", f)
	}
	for _, seq := range r.HashMismatches {
		fmt.Fprintf(w, "  hash mismatch: transaction %d\n", seq)
	}
}
