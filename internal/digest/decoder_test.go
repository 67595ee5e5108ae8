package digest

import (
	"os"
	"testing"

	p4_v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/pipeline"
)

const learnDigestID = 399590470

func loadPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	data, err := os.ReadFile("../pipeline/testdata/l2.p4info.txt")
	require.NoError(t, err)
	info, err := pipeline.ParseP4Info(data)
	require.NoError(t, err)
	pl, err := pipeline.FromP4Info(info)
	require.NoError(t, err)
	return pl
}

var rels = []ir.RelationSpec{
	{Name: "Blocked", Type: "Blocked", Role: ir.RoleInput, Fields: []string{"mac"}},
	{Name: "Learned", Type: "Ingress.Learned", Role: ir.RoleInput, Fields: []string{"mac", "port"}},
	{Name: "Forward", Type: "Forward", Role: ir.RoleOutput},
}

func bits(b ...byte) *p4_v1.P4Data {
	return &p4_v1.P4Data{Data: &p4_v1.P4Data_Bitstring{Bitstring: b}}
}

func learnData(mac []byte, port byte) *p4_v1.P4Data {
	return &p4_v1.P4Data{Data: &p4_v1.P4Data_Struct{Struct: &p4_v1.P4StructLike{
		Members: []*p4_v1.P4Data{bits(mac...), bits(port)},
	}}}
}

func TestDecode_ExplicitBinding(t *testing.T) {
	d, err := NewP4InfoDecoder(loadPipeline(t), rels, map[string]string{"learn_t": "Learned"})
	require.NoError(t, err)

	rel, ok := d.Relation(learnDigestID)
	require.True(t, ok)
	assert.Equal(t, ir.RelID(1), rel)

	u, err := d.Decode(learnDigestID, learnData([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x05}, 3))
	require.NoError(t, err)

	want := ir.InsertOf(1, ir.Struct("Ingress.Learned",
		ir.F("mac", ir.NewInt(5)),
		ir.F("port", ir.NewInt(3)),
	))
	assert.Equal(t, want.Kind, u.Kind)
	assert.Equal(t, want.Relation, u.Relation)
	assert.True(t, ir.Equal(want.Value, u.Value), "got %s", u.Value)
}

func TestDecode_MembersFromP4Info(t *testing.T) {
	// no declared fields: member names come from the digest's struct type
	r := []ir.RelationSpec{{Name: "learn", Type: "learn", Role: ir.RoleInput}}
	d, err := NewP4InfoDecoder(loadPipeline(t), r, nil)
	require.NoError(t, err)

	u, err := d.Decode(learnDigestID, learnData([]byte{0x01, 0x00}, 9))
	require.NoError(t, err)
	assert.Equal(t, `learn{mac: 256, port: 9}`, u.Value.String())
}

func TestDecode_UnboundAndUnknown(t *testing.T) {
	d, err := NewP4InfoDecoder(loadPipeline(t), rels, nil)
	require.NoError(t, err)

	_, err = d.Decode(learnDigestID, learnData([]byte{1}, 1))
	assert.ErrorIs(t, err, ErrUnboundDigest)

	_, err = d.Decode(12345, learnData([]byte{1}, 1))
	assert.ErrorIs(t, err, ErrUnknownDigest)
}

func TestDecode_MemberCountMismatch(t *testing.T) {
	d, err := NewP4InfoDecoder(loadPipeline(t), rels, map[string]string{"learn_t": "Blocked"})
	require.NoError(t, err)

	_, err = d.Decode(learnDigestID, learnData([]byte{1}, 1))
	assert.ErrorContains(t, err, "2 members, relation Blocked has 1 fields")

	u, err := d.Decode(learnDigestID, bits(0x07))
	require.NoError(t, err, "a scalar digest fills a one-field relation")
	assert.Equal(t, `Blocked{mac: 7}`, u.Value.String())
}

func TestNewP4InfoDecoder_BadBindings(t *testing.T) {
	pl := loadPipeline(t)

	_, err := NewP4InfoDecoder(pl, rels, map[string]string{"nope": "Learned"})
	assert.ErrorIs(t, err, ErrUnknownDigest)

	_, err = NewP4InfoDecoder(pl, rels, map[string]string{"learn_t": "Forward"})
	assert.ErrorContains(t, err, "not an input relation")

	_, err = NewP4InfoDecoder(pl, rels, map[string]string{"learn_t": "Missing"})
	assert.ErrorContains(t, err, "not an input relation")
}

func TestValue(t *testing.T) {
	tests := []struct {
		name string
		in   *p4_v1.P4Data
		want string
	}{
		{"bitstring", bits(0x01, 0x02), "258"},
		{"bool", &p4_v1.P4Data{Data: &p4_v1.P4Data_Bool{Bool: true}}, "true"},
		{"varbit", &p4_v1.P4Data{Data: &p4_v1.P4Data_Varbit{Varbit: &p4_v1.P4Varbit{Bitstring: []byte{4}, Bitwidth: 8}}}, "4"},
		{"enum", &p4_v1.P4Data{Data: &p4_v1.P4Data_Enum{Enum: "RED"}}, `"RED"`},
		{"tuple", &p4_v1.P4Data{Data: &p4_v1.P4Data_Tuple{Tuple: &p4_v1.P4StructLike{
			Members: []*p4_v1.P4Data{bits(1), {Data: &p4_v1.P4Data_Bool{Bool: false}}},
		}}}, "(1, false)"},
		{"invalid header", &p4_v1.P4Data{Data: &p4_v1.P4Data_Header{Header: &p4_v1.P4Header{IsValid: false}}}, "()"},
		{"header", &p4_v1.P4Data{Data: &p4_v1.P4Data_Header{Header: &p4_v1.P4Header{
			IsValid: true, Bitstrings: [][]byte{{1}, {2}},
		}}}, "(1, 2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Value(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestValue_Unsupported(t *testing.T) {
	_, err := Value(&p4_v1.P4Data{})
	assert.Error(t, err)

	_, err = Value(&p4_v1.P4Data{Data: &p4_v1.P4Data_HeaderStack{HeaderStack: &p4_v1.P4HeaderStack{}}})
	assert.Error(t, err)
}
