// Package store provides SQLite-backed durable storage for engine state.
//
// The store holds two tables:
//   - facts: current contents of every relation, keyed by (relation, fact_id)
//     with a derivation count
//   - transactions: an append-only journal of committed batches
//
// # Patterns
//
// Logical time: transactions are ordered by seq INTEGER, never timestamps.
// The engine resumes its clock from LastSeq.
//
// Deterministic reads: every query orders by (seq) or (relation, fact_id
// COLLATE BINARY) so dumps are identical across runs.
//
// All-or-nothing: engine batches run inside a single Tx. Rollback leaves
// both tables untouched.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Fact ids are computed by ir.FactID over canonical JSON.
package store
