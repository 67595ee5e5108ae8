package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tablesync/internal/ir"
)

// Validation error codes (E200-E299)
const (
	// Relation errors (E201-E209)
	ErrNoInputs          = "E201" // at least one input relation required
	ErrNoOutputs         = "E202" // at least one output relation required
	ErrDuplicateRelation = "E203" // relation name declared twice
	ErrEmptyName         = "E204" // relation name or type empty
	ErrDuplicateField    = "E205" // input field declared twice

	// Rule errors (E210-E219)
	ErrUnknownRelation = "E210" // rule references an undeclared relation
	ErrRuleFromOutput  = "E211" // rule reads from a non-input relation
	ErrRuleToInput     = "E212" // rule writes to a non-output relation
	ErrUnknownField    = "E213" // where or template names a field the input does not declare
)

// ValidationError represents a program validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled program for structural errors.
// Returns all errors found (does not fail-fast).
func Validate(spec *ir.ProgramSpec) []ValidationError {
	var errs []ValidationError

	if len(spec.Inputs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "input",
			Message: "at least one input relation is required",
			Code:    ErrNoInputs,
		})
	}
	if len(spec.Outputs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "output",
			Message: "at least one output relation is required",
			Code:    ErrNoOutputs,
		})
	}

	byName := make(map[string]ir.RelationSpec)
	for _, rel := range spec.Relations() {
		path := fmt.Sprintf("%s.%s", rel.Role, rel.Name)

		if strings.TrimSpace(rel.Name) == "" || strings.TrimSpace(rel.Type) == "" {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: "relation name and type must be non-empty",
				Code:    ErrEmptyName,
			})
		}

		// Inputs and outputs share one namespace
		if _, dup := byName[rel.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("duplicate relation name: %q", rel.Name),
				Code:    ErrDuplicateRelation,
			})
			continue
		}
		byName[rel.Name] = rel

		seen := make(map[string]bool)
		for _, f := range rel.Fields {
			if seen[f] {
				errs = append(errs, ValidationError{
					Field:   path + ".fields",
					Message: fmt.Sprintf("duplicate field name: %q", f),
					Code:    ErrDuplicateField,
				})
			}
			seen[f] = true
		}
	}

	for _, rule := range spec.Rules {
		errs = append(errs, validateRule(rule, byName)...)
	}

	return errs
}

func validateRule(rule ir.RuleSpec, byName map[string]ir.RelationSpec) []ValidationError {
	var errs []ValidationError
	path := "rule." + rule.ID

	from, ok := byName[rule.From]
	switch {
	case !ok:
		errs = append(errs, ValidationError{
			Field:   path + ".from",
			Message: fmt.Sprintf("unknown relation %q", rule.From),
			Code:    ErrUnknownRelation,
		})
	case from.Role != ir.RoleInput:
		errs = append(errs, ValidationError{
			Field:   path + ".from",
			Message: fmt.Sprintf("relation %q is not an input", rule.From),
			Code:    ErrRuleFromOutput,
		})
	}

	to, ok := byName[rule.To]
	switch {
	case !ok:
		errs = append(errs, ValidationError{
			Field:   path + ".to",
			Message: fmt.Sprintf("unknown relation %q", rule.To),
			Code:    ErrUnknownRelation,
		})
	case to.Role != ir.RoleOutput:
		errs = append(errs, ValidationError{
			Field:   path + ".to",
			Message: fmt.Sprintf("relation %q is not an output", rule.To),
			Code:    ErrRuleToInput,
		})
	}

	// Field checks need a declared field list
	if from.Role != ir.RoleInput || len(from.Fields) == 0 {
		return errs
	}

	for _, w := range rule.Where {
		if !slices.Contains(from.Fields, w.Name) {
			errs = append(errs, ValidationError{
				Field:   path + ".where." + w.Name,
				Message: fmt.Sprintf("relation %q has no field %q", from.Name, w.Name),
				Code:    ErrUnknownField,
			})
		}
	}
	for _, ref := range FieldRefs(rule.Value) {
		if !slices.Contains(from.Fields, ref) {
			errs = append(errs, ValidationError{
				Field:   path + ".value",
				Message: fmt.Sprintf("relation %q has no field %q", from.Name, ref),
				Code:    ErrUnknownField,
			})
		}
	}

	return errs
}

// FieldRefs returns the input fields a template references, in template order.
func FieldRefs(t ir.Template) []string {
	var refs []string
	var walk func(ir.Template)
	walk = func(t ir.Template) {
		switch t := t.(type) {
		case ir.FieldRef:
			refs = append(refs, t.Field)
		case ir.StructTemplate:
			for _, f := range t.Fields {
				walk(f.Value)
			}
		}
	}
	walk(t)
	return refs
}
