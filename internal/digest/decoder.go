// Package digest decodes switch digest data into fact updates.
//
// Each digest is bound to one input relation. A data item becomes an insert
// into that relation, tagged with the relation's record type. Struct
// members are named by the relation's declared fields, or by the member
// names in the P4Info type info when the relation declares none.
package digest

import (
	"errors"
	"fmt"
	"strings"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/pipeline"
)

var (
	// ErrUnknownDigest is returned for a digest id the pipeline does not declare.
	ErrUnknownDigest = errors.New("unknown digest")
	// ErrUnboundDigest is returned for a digest no input relation is bound to.
	ErrUnboundDigest = errors.New("digest not bound to a relation")
)

// Decoder converts one digest data item to a fact update.
type Decoder interface {
	Decode(digestID uint32, data *p4_v1.P4Data) (ir.Update, error)
}

type binding struct {
	digest pipeline.Digest
	rel    ir.RelID
	spec   ir.RelationSpec
	fields []string
}

// P4InfoDecoder decodes digests using the pipeline's digest schemas.
type P4InfoDecoder struct {
	bound   map[uint32]binding
	unbound map[uint32]string
}

// NewP4InfoDecoder binds the pipeline's digests to input relations. rels is
// indexed by relation id, as returned by ir.ProgramSpec.Relations.
//
// bindings maps a digest name (qualified or trailing segment) to a relation
// name. A digest without an explicit binding is bound to the first input
// relation whose name contains the digest's trailing name, or is contained
// in it. Digests that bind to nothing are accepted here and fail in Decode.
func NewP4InfoDecoder(pl *pipeline.Pipeline, rels []ir.RelationSpec, bindings map[string]string) (*P4InfoDecoder, error) {
	byName := make(map[string]ir.RelID, len(rels))
	for i, r := range rels {
		byName[r.Name] = ir.RelID(i)
	}

	for name := range bindings {
		if _, ok := pl.DigestByName(name); !ok {
			return nil, fmt.Errorf("digest binding: %w %q", ErrUnknownDigest, name)
		}
	}

	d := &P4InfoDecoder{bound: make(map[uint32]binding), unbound: make(map[uint32]string)}
	for _, dg := range pl.Digests {
		short := dg.Name[strings.LastIndexByte(dg.Name, '.')+1:]

		relName, explicit := bindings[dg.Name]
		if !explicit {
			relName, explicit = bindings[short]
		}

		var (
			id ir.RelID
			ok bool
		)
		if explicit {
			id, ok = byName[relName]
			if !ok || rels[id].Role != ir.RoleInput {
				return nil, fmt.Errorf("digest binding %s: %q is not an input relation", dg.Name, relName)
			}
		} else {
			id, ok = matchRelation(short, rels)
		}
		if !ok {
			d.unbound[dg.ID] = dg.Name
			continue
		}

		spec := rels[id]
		fields := spec.Fields
		if len(fields) == 0 {
			fields = dg.Members
		}
		d.bound[dg.ID] = binding{digest: dg, rel: id, spec: spec, fields: fields}
	}
	return d, nil
}

func matchRelation(short string, rels []ir.RelationSpec) (ir.RelID, bool) {
	for i, r := range rels {
		if r.Role != ir.RoleInput {
			continue
		}
		if strings.Contains(r.Name, short) || strings.Contains(short, r.Name) {
			return ir.RelID(i), true
		}
	}
	return 0, false
}

// Relation returns the relation a digest is bound to.
func (d *P4InfoDecoder) Relation(digestID uint32) (ir.RelID, bool) {
	b, ok := d.bound[digestID]
	return b.rel, ok
}

// Decode converts one data item of digest digestID to an insert.
func (d *P4InfoDecoder) Decode(digestID uint32, data *p4_v1.P4Data) (ir.Update, error) {
	b, ok := d.bound[digestID]
	if !ok {
		if name, known := d.unbound[digestID]; known {
			return ir.Update{}, fmt.Errorf("%w: %s", ErrUnboundDigest, name)
		}
		return ir.Update{}, fmt.Errorf("%w: id %d", ErrUnknownDigest, digestID)
	}

	var members []*p4_v1.P4Data
	if s := data.GetStruct(); s != nil {
		members = s.GetMembers()
	} else {
		members = []*p4_v1.P4Data{data}
	}
	if len(members) != len(b.fields) {
		return ir.Update{}, fmt.Errorf("digest %s: %d members, relation %s has %d fields",
			b.digest.Name, len(members), b.spec.Name, len(b.fields))
	}

	fields := make([]ir.Field, len(members))
	for i, m := range members {
		v, err := Value(m)
		if err != nil {
			return ir.Update{}, fmt.Errorf("digest %s field %q: %w", b.digest.Name, b.fields[i], err)
		}
		fields[i] = ir.F(b.fields[i], v)
	}

	typ := b.spec.Type
	if typ == "" {
		typ = b.spec.Name
	}
	return ir.InsertOf(b.rel, ir.Struct(typ, fields...)), nil
}

// Value converts P4Data to a Record. Bitstrings are unsigned big-endian
// integers; structs, tuples and headers become Tuples of their members.
func Value(data *p4_v1.P4Data) (ir.Record, error) {
	switch v := data.GetData().(type) {
	case *p4_v1.P4Data_Bitstring:
		return ir.NewIntFromBytes(v.Bitstring), nil
	case *p4_v1.P4Data_Varbit:
		return ir.NewIntFromBytes(v.Varbit.GetBitstring()), nil
	case *p4_v1.P4Data_Bool:
		return ir.Bool(v.Bool), nil
	case *p4_v1.P4Data_EnumValue:
		return ir.NewIntFromBytes(v.EnumValue), nil
	case *p4_v1.P4Data_Enum:
		return ir.String(v.Enum), nil
	case *p4_v1.P4Data_Error:
		return ir.String(v.Error), nil
	case *p4_v1.P4Data_Struct:
		return tuple(v.Struct.GetMembers())
	case *p4_v1.P4Data_Tuple:
		return tuple(v.Tuple.GetMembers())
	case *p4_v1.P4Data_Header:
		if !v.Header.GetIsValid() {
			return ir.Tuple{}, nil
		}
		t := make(ir.Tuple, len(v.Header.GetBitstrings()))
		for i, b := range v.Header.GetBitstrings() {
			t[i] = ir.NewIntFromBytes(b)
		}
		return t, nil
	case nil:
		return nil, fmt.Errorf("empty data")
	default:
		return nil, fmt.Errorf("unsupported data type %T", v)
	}
}

func tuple(members []*p4_v1.P4Data) (ir.Record, error) {
	t := make(ir.Tuple, len(members))
	for i, m := range members {
		v, err := Value(m)
		if err != nil {
			return nil, fmt.Errorf("member[%d]: %w", i, err)
		}
		t[i] = v
	}
	return t, nil
}
