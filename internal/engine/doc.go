// Package engine evaluates fact programs transactionally.
//
// A Program owns a fact store and a compiled ir.ProgramSpec. Callers submit
// batches of insertions and retractions on input relations through Apply;
// the program derives output facts through its rules and returns the
// resulting ir.Delta.
//
// EVALUATION:
//
// Input relations have set semantics: inserting a present fact or retracting
// an absent one is a no-op. Each rule maps every input fact matching its
// where-clause to one output fact built from its template. Output facts are
// reference-counted by the input facts deriving them; the Delta reports
// presence transitions only (+1 when a fact appears, -1 when it disappears).
//
// TRANSACTIONS:
//
// Apply is all-or-nothing. Every update of a batch runs inside one store
// transaction; any failure rolls it back and returns an *Error, leaving the
// program unchanged. Committed batches are journaled with a seq from the
// logical Clock and a batch token.
//
// Rules are evaluated in declaration order and deltas iterate in relation id
// then fact key order, so identical batches produce identical journals.
//
// Apply, Snapshot and Stop serialize on an internal mutex. In a running
// controller the control actor is the program's only caller.
package engine
