package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/ir"
)

const l2Program = `
input: Learned: {
	fields: ["mac", "port"]
}

output: Forward: {
	type: "Ingress.Forward"
}

rule: "forward-learned": {
	from: "Learned"
	to:   "Forward"
	value: {
		"$type": "Ingress.Forward"
		dst:     "$mac"
		action: {
			"$type": "Ingress.SetPort"
			port:    "$port"
		}
	}
}
`

func TestCompileString_Basic(t *testing.T) {
	spec, err := CompileString("l2.cue", l2Program)
	require.NoError(t, err)

	require.Len(t, spec.Inputs, 1)
	assert.Equal(t, "Learned", spec.Inputs[0].Name)
	assert.Equal(t, "Learned", spec.Inputs[0].Type, "type defaults to relation name")
	assert.Equal(t, []string{"mac", "port"}, spec.Inputs[0].Fields)
	assert.Equal(t, ir.RoleInput, spec.Inputs[0].Role)

	require.Len(t, spec.Outputs, 1)
	assert.Equal(t, "Ingress.Forward", spec.Outputs[0].Type)
	assert.Equal(t, ir.RoleOutput, spec.Outputs[0].Role)

	require.Len(t, spec.Rules, 1)
	rule := spec.Rules[0]
	assert.Equal(t, "forward-learned", rule.ID)
	assert.Equal(t, "Learned", rule.From)
	assert.Equal(t, "Forward", rule.To)

	want := ir.StructTemplate{
		Name: "Ingress.Forward",
		Fields: []ir.TemplateField{
			{Name: "dst", Value: ir.FieldRef{Field: "mac"}},
			{Name: "action", Value: ir.StructTemplate{
				Name:   "Ingress.SetPort",
				Fields: []ir.TemplateField{{Name: "port", Value: ir.FieldRef{Field: "port"}}},
			}},
		},
	}
	assert.Equal(t, want, rule.Value)
}

func TestCompileRule_Where(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: pinned: {
			from: "Learned"
			to:   "Forward"
			where: {port: 3, up: true}
			value: "$mac"
		}
	`)
	require.NoError(t, v.Err())

	rule, err := CompileRule(v.LookupPath(cue.ParsePath("rule.pinned")))
	require.NoError(t, err)

	require.Len(t, rule.Where, 2)
	assert.Equal(t, "port", rule.Where[0].Name)
	assert.True(t, ir.Equal(ir.NewInt(3), rule.Where[0].Value))
	assert.Equal(t, "up", rule.Where[1].Name)
	assert.Equal(t, ir.Bool(true), rule.Where[1].Value)
	assert.Equal(t, ir.FieldRef{Field: "mac"}, rule.Value)
}

func TestCompileRule_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing from", `rule: r: {to: "B", value: 1}`, "rule.r.from"},
		{"missing to", `rule: r: {from: "A", value: 1}`, "rule.r.to"},
		{"missing value", `rule: r: {from: "A", to: "B"}`, "rule.r.value"},
		{"from not string", `rule: r: {from: 1, to: "B", value: 1}`, "rule.r.from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())

			_, err := CompileRule(v.LookupPath(cue.ParsePath("rule.r")))
			require.Error(t, err)

			var compileErr *CompileError
			require.True(t, errors.As(err, &compileErr))
			assert.Equal(t, tt.field, compileErr.Field)
		})
	}
}

func TestCompileTemplate_Literals(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want ir.Template
	}{
		{"int", `value: 7`, ir.Literal{Value: ir.NewInt(7)}},
		{"bool", `value: false`, ir.Literal{Value: ir.Bool(false)}},
		{"string", `value: "eth0"`, ir.Literal{Value: ir.String("eth0")}},
		{"escaped dollar", `value: "$$port"`, ir.Literal{Value: ir.String("$port")}},
		{"tuple", `value: [1, "a"]`, ir.Literal{Value: ir.Tuple{ir.NewInt(1), ir.String("a")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())

			got, err := compileTemplate(v.LookupPath(cue.ParsePath("value")))
			require.NoError(t, err)

			wantLit := tt.want.(ir.Literal)
			gotLit, ok := got.(ir.Literal)
			require.True(t, ok, "got %T", got)
			assert.True(t, ir.Equal(wantLit.Value, gotLit.Value), "got %s", gotLit.Value)
		})
	}
}

func TestCompileTemplate_BigInt(t *testing.T) {
	v := cuecontext.New().CompileString(`value: 0xffffffffffffffffffff`)
	require.NoError(t, v.Err())

	got, err := compileTemplate(v.LookupPath(cue.ParsePath("value")))
	require.NoError(t, err)
	assert.Equal(t, "1208925819614629174706175", got.(ir.Literal).Value.String())
}

func TestCompileTemplate_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"float", `value: 1.5`, "float"},
		{"struct without type", `value: {a: 1}`, "$type"},
		{"empty ref", `value: "$"`, "empty field reference"},
		{"non-concrete", `value: int`, "concrete"},
		{"literal struct without type", `value: [{a: 1}]`, "$type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())

			_, err := compileTemplate(v.LookupPath(cue.ParsePath("value")))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompileString_SyntaxErrorHasPosition(t *testing.T) {
	_, err := CompileString("bad.cue", "input: {\n  Learned: fields: [\n")
	require.Error(t, err)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))
	assert.True(t, compileErr.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue")
}
