// Package ir provides the fact representation shared by every tablesync
// component.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key types:
//   - Record: sealed sum type for a fact value (NamedStruct, Bool, Int,
//     String, Tuple). Traversal is an exhaustive type switch.
//   - Update: insertion or retraction of one fact in one relation.
//   - Delta: net weight changes per relation produced by one transaction.
//   - ProgramSpec: compiled relations and rules for the engine.
//
// Canonical encoding (MarshalCanonical) is the only serialization used for
// fact identity. Strings are NFC normalized and object keys are sorted, so
// equal records always produce identical bytes.
package ir
