package engine

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
)

// evalTemplate builds a rule's output value from one input fact.
//
// Literals are copied as-is, FieldRefs resolve against the input fact, and
// StructTemplates build a NamedStruct with fields in template order.
// A FieldRef to a field the fact lacks is an error: the rule cannot derive
// a well-formed output.
func evalTemplate(t ir.Template, input ir.NamedStruct) (ir.Record, error) {
	switch t := t.(type) {
	case ir.Literal:
		if t.Value == nil {
			return nil, fmt.Errorf("empty literal")
		}
		return t.Value, nil

	case ir.FieldRef:
		v, ok := input.Field(t.Field)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", input.Name, t.Field)
		}
		return v, nil

	case ir.StructTemplate:
		out := ir.NamedStruct{Name: t.Name, Fields: make([]ir.Field, 0, len(t.Fields))}
		for _, f := range t.Fields {
			v, err := evalTemplate(f.Value, input)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
			}
			out.Fields = append(out.Fields, ir.F(f.Name, v))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown template %T", t)
	}
}
