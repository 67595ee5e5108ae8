// Package pipeline models the switch's forwarding pipeline as described by
// its P4Info: tables with their match fields and permitted actions, actions
// with their parameters, and digests.
//
// The schema resolver maps record tags produced by the engine onto tables
// and actions by name. Matching is deliberately permissive: a schema matches
// a tag when the last dot-separated segment of the schema's qualified name
// is a substring of the tag, and the first such schema in P4Info order wins.
// No match means the record is skipped, never an error.
package pipeline
