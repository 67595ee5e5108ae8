package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
)

// ErrTxDone is returned by Tx methods after Commit or Rollback.
var ErrTxDone = errors.New("store: transaction already finished")

// Tx is one all-or-nothing batch against the store. It is not safe for
// concurrent use.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// Begin starts a transaction. Callers must finish it with Commit or
// Rollback; the usual shape is
//
//	tx, err := s.Begin(ctx)
//	...
//	defer tx.Rollback() // no-op after Commit
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Count returns the derivation count of a fact, or 0 if the fact is absent.
func (t *Tx) Count(ctx context.Context, relation, factID string) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}

	var count int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT count FROM facts WHERE relation = ? AND fact_id = ?`,
		relation, factID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	return count, nil
}

// SetCount stores a fact with the given derivation count. A count of zero or
// less removes the fact.
func (t *Tx) SetCount(ctx context.Context, relation, factID string, value ir.Record, count int64) error {
	if t.done {
		return ErrTxDone
	}

	if count <= 0 {
		_, err := t.tx.ExecContext(ctx,
			`DELETE FROM facts WHERE relation = ? AND fact_id = ?`,
			relation, factID,
		)
		if err != nil {
			return fmt.Errorf("delete fact: %w", err)
		}
		return nil
	}

	valueJSON, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("set count: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO facts (relation, fact_id, value, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(relation, fact_id) DO UPDATE SET count = excluded.count
	`, relation, factID, valueJSON, count)
	if err != nil {
		return fmt.Errorf("set count: %w", err)
	}
	return nil
}

// Journal appends a transaction record. Seq must be unique.
func (t *Tx) Journal(ctx context.Context, rec Transaction) error {
	if t.done {
		return ErrTxDone
	}

	payload, err := marshalEntries(rec.Entries)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO transactions
		(seq, token, batch_hash, update_count, change_count, payload, engine_version, journal_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Seq,
		rec.Token,
		rec.BatchHash,
		len(rec.Entries),
		rec.Changes,
		payload,
		ir.EngineVersion,
		ir.JournalVersion,
	)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// Commit makes the transaction's writes visible.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction's writes. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
