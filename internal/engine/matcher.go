package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/tablesync/internal/ir"
)

// matchWhere reports whether a fact satisfies a rule's where-clause.
//
// Every constraint must name a field of the fact whose value is equal to
// the constraint's literal. An empty where-clause matches every fact. A
// constraint on a missing field does not match.
func matchWhere(where []ir.Field, fact ir.NamedStruct) bool {
	for _, c := range where {
		v, ok := fact.Field(c.Name)
		if !ok || !ir.Equal(v, c.Value) {
			return false
		}
	}
	return true
}

// checkShape verifies that a fact has the relation's record shape: a
// NamedStruct tagged with the relation type, carrying every declared field.
func checkShape(rel ir.RelationSpec, v ir.Record) (ir.NamedStruct, error) {
	s, ok := v.(ir.NamedStruct)
	if !ok {
		return ir.NamedStruct{}, fmt.Errorf("expected %s record, got %T", rel.Type, v)
	}
	if s.Name != rel.Type {
		return ir.NamedStruct{}, fmt.Errorf("expected %s record, got %s", rel.Type, s.Name)
	}
	for _, name := range rel.Fields {
		if !slices.ContainsFunc(s.Fields, func(f ir.Field) bool { return f.Name == name }) {
			return ir.NamedStruct{}, fmt.Errorf("%s record missing field %q", rel.Type, name)
		}
	}
	return s, nil
}
