package ir

import (
	"fmt"
	"sort"
)

// RelID identifies a relation within one compiled program.
type RelID uint32

// UpdateKind distinguishes insertions from retractions.
type UpdateKind int

const (
	// Insert adds a fact to an input relation.
	Insert UpdateKind = iota + 1
	// Delete retracts a fact from an input relation.
	Delete
)

func (k UpdateKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Update is one insertion or retraction of a typed fact.
type Update struct {
	Kind     UpdateKind
	Relation RelID
	Value    Record
}

// InsertOf builds an insertion update.
func InsertOf(rel RelID, v Record) Update {
	return Update{Kind: Insert, Relation: rel, Value: v}
}

// DeleteOf builds a retraction update.
func DeleteOf(rel RelID, v Record) Update {
	return Update{Kind: Delete, Relation: rel, Value: v}
}

// Change is the net weight change of one fact within a Delta.
type Change struct {
	Key    string // canonical fact id
	Value  Record
	Weight int64
}

// Delta maps relation -> fact id -> net change for one transaction.
//
// INVARIANTS:
//   - Weight is never zero (Add removes entries that cancel out)
//   - Only relations with at least one change are present
type Delta map[RelID]map[string]Change

// Add accumulates weight for a fact, dropping it when the net reaches zero.
func (d Delta) Add(rel RelID, key string, v Record, weight int64) {
	changes, ok := d[rel]
	if !ok {
		changes = make(map[string]Change)
		d[rel] = changes
	}

	c := changes[key]
	c.Key = key
	c.Value = v
	c.Weight += weight
	if c.Weight == 0 {
		delete(changes, key)
		if len(changes) == 0 {
			delete(d, rel)
		}
		return
	}
	changes[key] = c
}

// Relations returns the relations present in the delta in ascending order.
func (d Delta) Relations() []RelID {
	rels := make([]RelID, 0, len(d))
	for rel := range d {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i] < rels[j] })
	return rels
}

// Changes returns a relation's changes ordered by fact id.
func (d Delta) Changes(rel RelID) []Change {
	changes := make([]Change, 0, len(d[rel]))
	for _, c := range d[rel] {
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

// Len returns the total number of changed facts.
func (d Delta) Len() int {
	n := 0
	for _, changes := range d {
		n += len(changes)
	}
	return n
}
