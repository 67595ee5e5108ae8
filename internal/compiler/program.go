package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/tablesync/internal/ir"
)

// CompileString compiles CUE source holding a whole program.
// filename is used for error positions only.
func CompileString(filename, src string) (*ir.ProgramSpec, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileProgram(v)
}

// CompileProgram parses a CUE value into a ProgramSpec. It stops at the
// first error; use CompileRelation and CompileRule directly to collect all.
//
// The value is the program root:
//
//	input: Learned: {fields: ["mac", "port"]}
//	output: Forward: {type: "Ingress.Forward"}
//	rule: "forward": {from: "Learned", to: "Forward", value: {...}}
func CompileProgram(v cue.Value) (*ir.ProgramSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ProgramSpec{}

	var err error
	spec.Inputs, err = compileRelations(v, "input", ir.RoleInput)
	if err != nil {
		return nil, err
	}
	spec.Outputs, err = compileRelations(v, "output", ir.RoleOutput)
	if err != nil {
		return nil, err
	}

	ruleVal := v.LookupPath(cue.ParsePath("rule"))
	if ruleVal.Exists() {
		iter, err := ruleVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			rule, err := CompileRule(iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Rules = append(spec.Rules, *rule)
		}
	}

	return spec, nil
}

func compileRelations(v cue.Value, section string, role ir.RelationRole) ([]ir.RelationSpec, error) {
	var rels []ir.RelationSpec

	sectionVal := v.LookupPath(cue.ParsePath(section))
	if !sectionVal.Exists() {
		return rels, nil
	}

	iter, err := sectionVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		rel, err := CompileRelation(iter.Value(), role)
		if err != nil {
			return nil, err
		}
		rels = append(rels, *rel)
	}
	return rels, nil
}

// CompileRelation parses one relation declaration. The relation name is the
// value's last path selector. type defaults to the relation name.
func CompileRelation(v cue.Value, role ir.RelationRole) (*ir.RelationSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rel := &ir.RelationSpec{Role: role, Name: lastLabel(v)}
	rel.Type = rel.Name

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if typeVal.Exists() {
		t, err := typeVal.String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.%s.type", role, rel.Name),
				Message: "type must be a string",
				Pos:     typeVal.Pos(),
			}
		}
		rel.Type = t
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if fieldsVal.Exists() {
		iter, err := fieldsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("%s.%s.fields", role, rel.Name),
					Message: "field names must be strings",
					Pos:     iter.Value().Pos(),
				}
			}
			rel.Fields = append(rel.Fields, name)
		}
	}

	return rel, nil
}

// CompileRule parses one rule. The rule id is the value's last path selector.
func CompileRule(v cue.Value) (*ir.RuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.RuleSpec{ID: lastLabel(v)}

	var err error
	rule.From, err = requiredString(v, "from", rule.ID)
	if err != nil {
		return nil, err
	}
	rule.To, err = requiredString(v, "to", rule.ID)
	if err != nil {
		return nil, err
	}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		iter, err := whereVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			lit, err := compileLiteral(iter.Value())
			if err != nil {
				return nil, err
			}
			rule.Where = append(rule.Where, ir.F(iter.Label(), lit))
		}
	}

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("rule.%s.value", rule.ID),
			Message: "value is required",
			Pos:     v.Pos(),
		}
	}
	rule.Value, err = compileTemplate(valueVal)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

func requiredString(v cue.Value, field, ruleID string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   fmt.Sprintf("rule.%s.%s", ruleID, field),
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{
			Field:   fmt.Sprintf("rule.%s.%s", ruleID, field),
			Message: field + " must be a relation name",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// lastLabel returns the unquoted name of the value's last path selector.
func lastLabel(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	sel := sels[len(sels)-1]
	if sel.IsString() {
		return sel.Unquoted()
	}
	return sel.String()
}
