package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/tablesync/internal/ir"
)

// TypeLabel names the record tag inside a struct template or literal.
const TypeLabel = "$type"

// compileTemplate converts a rule's value into a Template.
//
//	"$port"                       -> FieldRef{port}
//	"$$literal"                   -> Literal{"$literal"}
//	{"$type": "T", a: "$x", b: 1} -> StructTemplate{T, [a, b]}
//	anything else                 -> Literal
func compileTemplate(v cue.Value) (ir.Template, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch {
		case strings.HasPrefix(s, "$$"):
			return ir.Literal{Value: ir.String(s[1:])}, nil
		case strings.HasPrefix(s, "$"):
			if len(s) == 1 {
				return nil, &CompileError{Field: "value", Message: "empty field reference", Pos: v.Pos()}
			}
			return ir.FieldRef{Field: s[1:]}, nil
		}
		return ir.Literal{Value: ir.String(s)}, nil

	case cue.StructKind:
		tmpl := ir.StructTemplate{}
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			label := iter.Label()
			if label == TypeLabel {
				tmpl.Name, err = typeName(iter.Value())
				if err != nil {
					return nil, err
				}
				continue
			}
			fv, err := compileTemplate(iter.Value())
			if err != nil {
				return nil, err
			}
			tmpl.Fields = append(tmpl.Fields, ir.TemplateField{Name: label, Value: fv})
		}
		if tmpl.Name == "" {
			return nil, &CompileError{
				Field:   "value",
				Message: fmt.Sprintf("struct template requires a %q label", TypeLabel),
				Pos:     v.Pos(),
			}
		}
		return tmpl, nil
	}

	lit, err := compileLiteral(v)
	if err != nil {
		return nil, err
	}
	return ir.Literal{Value: lit}, nil
}

// compileLiteral converts a concrete CUE value into a Record. Floats are
// forbidden; structs need a "$type" label.
func compileLiteral(v cue.Value) (ir.Record, error) {
	switch v.Kind() {
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil

	case cue.IntKind:
		n, err := v.Int(nil)
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.NewBigInt(n), nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		tuple := ir.Tuple{}
		for iter.Next() {
			elem, err := compileLiteral(iter.Value())
			if err != nil {
				return nil, err
			}
			tuple = append(tuple, elem)
		}
		return tuple, nil

	case cue.StructKind:
		s := ir.NamedStruct{}
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			if iter.Label() == TypeLabel {
				s.Name, err = typeName(iter.Value())
				if err != nil {
					return nil, err
				}
				continue
			}
			fv, err := compileLiteral(iter.Value())
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, ir.F(iter.Label(), fv))
		}
		if s.Name == "" {
			return nil, &CompileError{
				Field:   "literal",
				Message: fmt.Sprintf("struct literal requires a %q label", TypeLabel),
				Pos:     v.Pos(),
			}
		}
		return s, nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "literal",
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	}

	return nil, &CompileError{
		Field:   "literal",
		Message: fmt.Sprintf("value must be concrete, got %v", v.IncompleteKind()),
		Pos:     v.Pos(),
	}
}

func typeName(v cue.Value) (string, error) {
	name, err := v.String()
	if err != nil || name == "" {
		return "", &CompileError{
			Field:   TypeLabel,
			Message: "must be a non-empty string",
			Pos:     v.Pos(),
		}
	}
	return name, nil
}
