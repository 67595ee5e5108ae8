package compiler

import (
	"fmt"

	"github.com/roach88/tablesync/internal/ir"
)

// ReachabilityWarning reports a relation no rule connects.
//
// These are warnings, not errors: an unread input may be populated ahead of
// a rule being added, and an unwritten output is simply always empty.
type ReachabilityWarning struct {
	Relation string `json:"relation"`
	Message  string `json:"message"`
	Level    string `json:"level"` // "warning" or "info"
}

// AnalyzeReachability lists inputs no rule reads and outputs no rule writes.
// Outputs are the ones that matter: an unwritten output never produces a
// table write, so it is a warning; an unread input is info.
func AnalyzeReachability(spec *ir.ProgramSpec) []ReachabilityWarning {
	read := make(map[string]bool)
	written := make(map[string]bool)
	for _, r := range spec.Rules {
		read[r.From] = true
		written[r.To] = true
	}

	warnings := []ReachabilityWarning{}
	for _, rel := range spec.Inputs {
		if !read[rel.Name] {
			warnings = append(warnings, ReachabilityWarning{
				Relation: rel.Name,
				Message:  fmt.Sprintf("input %q is not read by any rule", rel.Name),
				Level:    "info",
			})
		}
	}
	for _, rel := range spec.Outputs {
		if !written[rel.Name] {
			warnings = append(warnings, ReachabilityWarning{
				Relation: rel.Name,
				Message:  fmt.Sprintf("output %q is not written by any rule", rel.Name),
				Level:    "warning",
			})
		}
	}
	return warnings
}
