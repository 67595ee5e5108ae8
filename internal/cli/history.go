package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/store"
)

// HistoryOptions holds history command flags.
type HistoryOptions struct {
	DB    string
	Limit int
	Seq   int64
}

// TransactionRow is one journaled transaction as printed by history.
type TransactionRow struct {
	Seq            int64    `json:"seq"`
	Token          string   `json:"token"`
	BatchHash      string   `json:"batch_hash"`
	Changes        int      `json:"changes"`
	EngineVersion  string   `json:"engine_version"`
	JournalVersion string   `json:"journal_version"`
	Updates        []string `json:"updates"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transactions",
		Long: `List the transactions journaled in --db, oldest first.

Each transaction shows its batch token, the hash of its canonical update
encoding, the number of output changes it produced, and its updates.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent N transactions")
	cmd.Flags().Int64Var(&opts.Seq, "seq", 0, "show only the transaction with this seq")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(rootOpts *RootOptions, opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.DB)
	if err != nil {
		return formatter.fail(errorCode(err), "failed to open database", err)
	}
	defer st.Close()

	var txs []store.Transaction
	if opts.Seq > 0 {
		tx, err := st.ReadTransaction(ctx, opts.Seq)
		if errors.Is(err, sql.ErrNoRows) {
			return formatter.fail(ErrCodeNotFound, fmt.Sprintf("transaction %d not found", opts.Seq), nil)
		}
		if err != nil {
			return formatter.fail(ErrCodeStore, "failed to read journal", err)
		}
		txs = []store.Transaction{tx}
	} else {
		txs, err = st.ReadTransactions(ctx, opts.Limit)
		if err != nil {
			return formatter.fail(ErrCodeStore, "failed to read journal", err)
		}
	}

	rows := make([]TransactionRow, len(txs))
	for i, tx := range txs {
		rows[i] = toTransactionRow(tx)
	}

	if formatter.Format == "json" {
		return formatter.Success(rows)
	}
	printHistory(formatter.Writer, rows)
	return nil
}

// openExistingStore opens a database that must already exist. store.Open
// would otherwise create an empty one.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("database not found: %s", path)}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeStore, Message: err.Error()}
	}
	return st, nil
}

func toTransactionRow(tx store.Transaction) TransactionRow {
	row := TransactionRow{
		Seq:            tx.Seq,
		Token:          tx.Token,
		BatchHash:      tx.BatchHash,
		Changes:        tx.Changes,
		EngineVersion:  tx.EngineVersion,
		JournalVersion: tx.JournalVersion,
		Updates:        make([]string, len(tx.Entries)),
	}
	for i, e := range tx.Entries {
		row.Updates[i] = fmt.Sprintf("%s %s %s", e.Kind, e.Relation, e.Value)
	}
	return row
}

func printHistory(w io.Writer, rows []TransactionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No transactions")
		return
	}
	for _, r := range rows {
		hash := r.BatchHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "#%d %s %s changes=%d\n", r.Seq, r.Token, hash, r.Changes)
		for _, u := range r.Updates {
			fmt.Fprintf(w, "  %s\n", u)
		}
	}
}
