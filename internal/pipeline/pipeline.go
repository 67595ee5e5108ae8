package pipeline

import (
	"fmt"
	"os"

	p4_config_v1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
)

// MatchKind is how a table key field is matched.
type MatchKind int

const (
	MatchUnspecified MatchKind = iota
	MatchExact
	MatchLPM
	MatchTernary
	MatchRange
	MatchOptional
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchLPM:
		return "lpm"
	case MatchTernary:
		return "ternary"
	case MatchRange:
		return "range"
	case MatchOptional:
		return "optional"
	default:
		return "unspecified"
	}
}

// MatchField is one key field of a table.
type MatchField struct {
	ID       uint32
	Name     string
	Bitwidth int32
	Kind     MatchKind
}

// Param is one action parameter.
type Param struct {
	ID       uint32
	Name     string
	Bitwidth int32
}

// Action is an action schema. Params keep P4Info order.
type Action struct {
	ID     uint32
	Name   string
	Params []Param
}

// Param looks up a parameter by name.
func (a Action) Param(name string) (Param, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Table is a table schema with the actions it permits.
type Table struct {
	ID          uint32
	Name        string
	MatchFields []MatchField
	Actions     []Action
}

// MatchField looks up a key field by name.
func (t Table) MatchField(name string) (MatchField, bool) {
	for _, f := range t.MatchFields {
		if f.Name == name {
			return f, true
		}
	}
	return MatchField{}, false
}

// Digest is a digest schema. Members name the fields of the digest's struct
// type in order; they are empty when the P4Info carries no type info.
type Digest struct {
	ID         uint32
	Name       string
	StructName string
	Members    []string
}

// Pipeline is the resolved schema of one installed P4 program.
type Pipeline struct {
	Tables  []Table
	Digests []Digest
}

// Table returns the table with the given qualified name.
func (p *Pipeline) Table(name string) (Table, bool) {
	for _, t := range p.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Digest returns the digest with the given id.
func (p *Pipeline) Digest(id uint32) (Digest, bool) {
	for _, d := range p.Digests {
		if d.ID == id {
			return d, true
		}
	}
	return Digest{}, false
}

// DigestByName returns the first digest whose qualified name or trailing
// segment equals name.
func (p *Pipeline) DigestByName(name string) (Digest, bool) {
	for _, d := range p.Digests {
		if d.Name == name || lastSegment(d.Name) == name {
			return d, true
		}
	}
	return Digest{}, false
}

// FromP4Info builds a Pipeline from P4Info. Table and digest order follows
// the P4Info, which is the order the resolver searches in.
func FromP4Info(info *p4_config_v1.P4Info) (*Pipeline, error) {
	if info == nil {
		return nil, fmt.Errorf("pipeline: nil p4info")
	}

	actions := make(map[uint32]Action, len(info.GetActions()))
	for _, a := range info.GetActions() {
		act := Action{ID: a.GetPreamble().GetId(), Name: a.GetPreamble().GetName()}
		for _, p := range a.GetParams() {
			act.Params = append(act.Params, Param{ID: p.GetId(), Name: p.GetName(), Bitwidth: p.GetBitwidth()})
		}
		actions[act.ID] = act
	}

	p := &Pipeline{}
	for _, t := range info.GetTables() {
		tbl := Table{ID: t.GetPreamble().GetId(), Name: t.GetPreamble().GetName()}
		for _, mf := range t.GetMatchFields() {
			tbl.MatchFields = append(tbl.MatchFields, MatchField{
				ID:       mf.GetId(),
				Name:     mf.GetName(),
				Bitwidth: mf.GetBitwidth(),
				Kind:     matchKind(mf.GetMatchType()),
			})
		}
		for _, ref := range t.GetActionRefs() {
			act, ok := actions[ref.GetId()]
			if !ok {
				return nil, fmt.Errorf("pipeline: table %s references unknown action %d", tbl.Name, ref.GetId())
			}
			tbl.Actions = append(tbl.Actions, act)
		}
		p.Tables = append(p.Tables, tbl)
	}

	structs := info.GetTypeInfo().GetStructs()
	for _, d := range info.GetDigests() {
		dg := Digest{
			ID:         d.GetPreamble().GetId(),
			Name:       d.GetPreamble().GetName(),
			StructName: d.GetTypeSpec().GetStruct().GetName(),
		}
		if st, ok := structs[dg.StructName]; ok {
			for _, m := range st.GetMembers() {
				dg.Members = append(dg.Members, m.GetName())
			}
		}
		p.Digests = append(p.Digests, dg)
	}

	return p, nil
}

func matchKind(t p4_config_v1.MatchField_MatchType) MatchKind {
	switch t {
	case p4_config_v1.MatchField_EXACT:
		return MatchExact
	case p4_config_v1.MatchField_LPM:
		return MatchLPM
	case p4_config_v1.MatchField_TERNARY:
		return MatchTernary
	case p4_config_v1.MatchField_RANGE:
		return MatchRange
	case p4_config_v1.MatchField_OPTIONAL:
		return MatchOptional
	default:
		return MatchUnspecified
	}
}

// ParseP4Info decodes P4Info in protobuf text format.
func ParseP4Info(data []byte) (*p4_config_v1.P4Info, error) {
	info := &p4_config_v1.P4Info{}
	if err := prototext.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("parse p4info: %w", err)
	}
	return info, nil
}

// LoadP4Info reads a P4Info text file.
func LoadP4Info(path string) (*p4_config_v1.P4Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read p4info: %w", err)
	}
	return ParseP4Info(data)
}
