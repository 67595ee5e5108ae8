package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
)

// Fact is one stored fact with its derivation count.
type Fact struct {
	Relation string
	ID       string
	Value    ir.Record
	Count    int64
}

// JournalEntry is one update of a journaled transaction, with the relation
// named rather than numbered so journals survive program edits.
type JournalEntry struct {
	Kind     ir.UpdateKind
	Relation string
	Value    ir.Record
}

// Transaction is one committed engine batch.
type Transaction struct {
	Seq       int64
	Token     string
	BatchHash string
	Entries   []JournalEntry
	Changes   int

	// Set on read only.
	EngineVersion  string
	JournalVersion string
}

// ReadRelation returns every fact of a relation ordered by fact id.
// Returns an empty slice (not nil) if the relation holds no facts.
func (s *Store) ReadRelation(ctx context.Context, relation string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relation, fact_id, value, count
		FROM facts
		WHERE relation = ?
		ORDER BY fact_id COLLATE BINARY ASC
	`, relation)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []Fact{}
	for rows.Next() {
		var (
			f         Fact
			valueJSON string
		)
		if err := rows.Scan(&f.Relation, &f.ID, &valueJSON, &f.Count); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Value, err = unmarshalValue(valueJSON)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", f.ID, err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

// ReadTransactions returns journaled transactions in seq order. A positive
// limit keeps only the most recent limit transactions.
func (s *Store) ReadTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	query := `
		SELECT seq, token, batch_hash, change_count, payload, engine_version, journal_version
		FROM transactions
		ORDER BY seq ASC
	`
	var args []any
	if limit > 0 {
		query = `
			SELECT * FROM (
				SELECT seq, token, batch_hash, change_count, payload, engine_version, journal_version
				FROM transactions
				ORDER BY seq DESC
				LIMIT ?
			) ORDER BY seq ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// ReadTransaction returns the transaction with the given seq.
// Returns sql.ErrNoRows (wrapped) if it does not exist.
func (s *Store) ReadTransaction(ctx context.Context, seq int64) (Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, token, batch_hash, change_count, payload, engine_version, journal_version
		FROM transactions
		WHERE seq = ?
	`, seq)
	t, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, fmt.Errorf("read transaction %d: %w", seq, err)
	}
	return t, nil
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transactions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t       Transaction
		payload string
	)
	if err := row.Scan(&t.Seq, &t.Token, &t.BatchHash, &t.Changes, &payload, &t.EngineVersion, &t.JournalVersion); err != nil {
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	entries, err := unmarshalEntries(payload)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %d: %w", t.Seq, err)
	}
	t.Entries = entries
	return t, nil
}
