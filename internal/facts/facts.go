// Package facts reads fact update batches from YAML.
//
// A batch is a sequence of entries, each naming an input relation and a
// value:
//
//	- insert: Learned
//	  value: {mac: 5, port: 3}
//	- delete: Blocked
//	  value: {mac: 9, vlan: 10}
//
// The value mapping becomes a NamedStruct tagged with the relation's record
// type. When the relation declares fields, they are put in declared order
// and must all be present. Nested mappings need a "$type" key and become
// NamedStructs in document order; sequences become Tuples. Integers have
// arbitrary precision; floats and nulls are rejected.
package facts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tablesync/internal/ir"
)

// TypeKey marks the record tag of a nested struct.
const TypeKey = "$type"

// Entry is one update as written in YAML.
type Entry struct {
	Insert string    `yaml:"insert,omitempty"`
	Delete string    `yaml:"delete,omitempty"`
	Value  yaml.Node `yaml:"value"`
}

// Load reads a batch file.
func Load(path string, rels []ir.RelationSpec) ([]ir.Update, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fact file: %w", err)
	}
	return Parse(data, rels)
}

// Parse decodes a batch. rels is indexed by relation id.
func Parse(data []byte, rels []ir.RelationSpec) ([]ir.Update, error) {
	var entries []Entry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return Decode(entries, rels)
}

// Decode converts entries to updates, in order.
func Decode(entries []Entry, rels []ir.RelationSpec) ([]ir.Update, error) {
	byName := make(map[string]ir.RelID, len(rels))
	for i, r := range rels {
		byName[r.Name] = ir.RelID(i)
	}

	updates := make([]ir.Update, 0, len(entries))
	for i, e := range entries {
		u, err := decodeEntry(e, rels, byName)
		if err != nil {
			return nil, fmt.Errorf("entry %d (line %d): %w", i, e.Value.Line, err)
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func decodeEntry(e Entry, rels []ir.RelationSpec, byName map[string]ir.RelID) (ir.Update, error) {
	var (
		kind ir.UpdateKind
		name string
	)
	switch {
	case e.Insert != "" && e.Delete != "":
		return ir.Update{}, fmt.Errorf("both insert and delete given")
	case e.Insert != "":
		kind, name = ir.Insert, e.Insert
	case e.Delete != "":
		kind, name = ir.Delete, e.Delete
	default:
		return ir.Update{}, fmt.Errorf("one of insert or delete is required")
	}

	id, ok := byName[name]
	if !ok {
		return ir.Update{}, fmt.Errorf("unknown relation %q", name)
	}
	rel := rels[id]

	v, err := relationValue(rel, &e.Value)
	if err != nil {
		return ir.Update{}, fmt.Errorf("%s: %w", name, err)
	}
	return ir.Update{Kind: kind, Relation: id, Value: v}, nil
}

func relationValue(rel ir.RelationSpec, node *yaml.Node) (ir.Record, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("value must be a mapping")
	}
	typ := rel.Type
	if typ == "" {
		typ = rel.Name
	}

	got := make(map[string]ir.Record, len(node.Content)/2)
	var order []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, dup := got[key]; dup {
			return nil, fmt.Errorf("duplicate field %q", key)
		}
		v, err := Value(node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		got[key] = v
		order = append(order, key)
	}

	if len(rel.Fields) == 0 {
		fields := make([]ir.Field, len(order))
		for i, k := range order {
			fields[i] = ir.F(k, got[k])
		}
		return ir.Struct(typ, fields...), nil
	}

	fields := make([]ir.Field, 0, len(rel.Fields))
	for _, name := range rel.Fields {
		v, ok := got[name]
		if !ok {
			return nil, fmt.Errorf("missing field %q", name)
		}
		fields = append(fields, ir.F(name, v))
		delete(got, name)
	}
	for _, k := range order {
		if _, extra := got[k]; extra {
			return nil, fmt.Errorf("unknown field %q", k)
		}
	}
	return ir.Struct(typ, fields...), nil
}

// Value converts a YAML node to a Record.
func Value(node *yaml.Node) (ir.Record, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return scalar(node)
	case yaml.SequenceNode:
		t := make(ir.Tuple, len(node.Content))
		for i, n := range node.Content {
			v, err := Value(n)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			t[i] = v
		}
		return t, nil
	case yaml.MappingNode:
		var (
			name   string
			fields []ir.Field
		)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1]
			if key == TypeKey {
				name = val.Value
				continue
			}
			v, err := Value(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			fields = append(fields, ir.F(key, v))
		}
		if name == "" {
			return nil, fmt.Errorf("line %d: nested struct needs a %q key", node.Line, TypeKey)
		}
		return ir.Struct(name, fields...), nil
	case yaml.AliasNode:
		return Value(node.Alias)
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node", node.Line)
	}
}

func scalar(node *yaml.Node) (ir.Record, error) {
	switch node.ShortTag() {
	case "!!int":
		n, ok := new(big.Int).SetString(node.Value, 0)
		if !ok {
			return nil, fmt.Errorf("line %d: bad integer %q", node.Line, node.Value)
		}
		return ir.NewBigInt(n), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, err
		}
		return ir.Bool(b), nil
	case "!!str":
		return ir.String(node.Value), nil
	case "!!float":
		return nil, fmt.Errorf("line %d: floats are not supported: %s", node.Line, node.Value)
	case "!!null":
		return nil, fmt.Errorf("line %d: null values are not supported", node.Line)
	default:
		return nil, fmt.Errorf("line %d: unsupported scalar %s", node.Line, node.ShortTag())
	}
}
