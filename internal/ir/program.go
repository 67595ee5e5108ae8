package ir

// RelationRole says whether callers may write a relation.
type RelationRole string

const (
	// RoleInput relations accept updates from callers and digests.
	RoleInput RelationRole = "input"
	// RoleOutput relations are derived by rules and reported in deltas.
	RoleOutput RelationRole = "output"
)

// RelationSpec declares one relation of a program.
type RelationSpec struct {
	Name string       `json:"name"`
	Type string       `json:"type"` // record tag of the relation's facts
	Role RelationRole `json:"role"`

	// Fields lists member names in order. Optional for outputs; for inputs it
	// is used to validate updates and to name positional digest members.
	Fields []string `json:"fields,omitempty"`
}

// RuleSpec derives one output fact from each matching input fact.
type RuleSpec struct {
	ID    string   `json:"id"`
	From  string   `json:"from"` // input relation name
	To    string   `json:"to"`   // output relation name
	Where []Field  `json:"-"`    // equality constraints on input fields
	Value Template `json:"-"`    // output value template
}

// ProgramSpec is a compiled program: relations in declaration order plus rules.
type ProgramSpec struct {
	Inputs  []RelationSpec `json:"inputs"`
	Outputs []RelationSpec `json:"outputs"`
	Rules   []RuleSpec     `json:"rules"`
}

// Relations returns inputs followed by outputs. A relation's index in this
// slice is its RelID.
func (p ProgramSpec) Relations() []RelationSpec {
	rels := make([]RelationSpec, 0, len(p.Inputs)+len(p.Outputs))
	rels = append(rels, p.Inputs...)
	rels = append(rels, p.Outputs...)
	return rels
}

// Template is a sealed interface describing how a rule builds its output.
// Only Literal, FieldRef and StructTemplate implement it.
type Template interface {
	template()
}

// Literal is a constant record.
type Literal struct {
	Value Record
}

func (Literal) template() {}

// FieldRef copies a field of the input fact.
type FieldRef struct {
	Field string
}

func (FieldRef) template() {}

// StructTemplate builds a NamedStruct with fields in order.
type StructTemplate struct {
	Name   string
	Fields []TemplateField
}

func (StructTemplate) template() {}

// TemplateField is one member of a StructTemplate.
type TemplateField struct {
	Name  string
	Value Template
}
