package engine

import (
	"context"
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/store"
)

// Replay re-applies journaled transactions, one Apply per transaction, and
// returns the net delta across all of them.
//
// Journal entries name relations, so a journal recorded under one program can
// rebuild state under an edited program that keeps the same input relations.
// Replay stops at the first failing transaction; earlier ones stay committed.
//
// Replay is structurally idempotent: inputs have set semantics, so replaying
// a journal into a store that already holds its facts yields an empty delta.
func (p *Program) Replay(ctx context.Context, txs []store.Transaction) (ir.Delta, error) {
	net := ir.Delta{}
	for _, t := range txs {
		batch := make([]ir.Update, 0, len(t.Entries))
		for i, e := range t.Entries {
			id, ok := p.RelationID(e.Relation)
			if !ok {
				return net, fmt.Errorf("replay seq %d: %w", t.Seq,
					newError(ErrCodeUnknownRelation, i, e.Relation, "relation not declared", nil))
			}
			batch = append(batch, ir.Update{Kind: e.Kind, Relation: id, Value: e.Value})
		}

		delta, err := p.Apply(ctx, batch)
		if err != nil {
			return net, fmt.Errorf("replay seq %d: %w", t.Seq, err)
		}
		merge(net, delta)
	}
	return net, nil
}

func merge(dst, src ir.Delta) {
	for _, rel := range src.Relations() {
		for _, c := range src.Changes(rel) {
			dst.Add(rel, c.Key, c.Value, c.Weight)
		}
	}
}
