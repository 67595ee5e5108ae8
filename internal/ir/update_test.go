package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelta_AddCancelsToZero(t *testing.T) {
	d := Delta{}
	v := Struct("T", F("x", NewInt(1)))
	key := MustFactID(v)

	d.Add(3, key, v, 1)
	assert.Equal(t, 1, d.Len())

	d.Add(3, key, v, -1)
	assert.Equal(t, 0, d.Len())
	_, present := d[3]
	assert.False(t, present, "empty relations must not appear in a delta")
}

func TestDelta_DeterministicOrder(t *testing.T) {
	d := Delta{}
	for _, n := range []int64{5, 1, 3} {
		v := Struct("T", F("x", NewInt(n)))
		d.Add(RelID(n), MustFactID(v), v, 1)
		d.Add(0, MustFactID(v), v, 1)
	}

	assert.Equal(t, []RelID{0, 1, 3, 5}, d.Relations())

	changes := d.Changes(0)
	assert.Len(t, changes, 3)
	for i := 1; i < len(changes); i++ {
		assert.Less(t, changes[i-1].Key, changes[i].Key)
	}
}

func TestUpdateKind_String(t *testing.T) {
	assert.Equal(t, "insert", Insert.String())
	assert.Equal(t, "delete", Delete.String())
	assert.Equal(t, "UpdateKind(9)", UpdateKind(9).String())
}

func TestProgramSpec_RelationsOrder(t *testing.T) {
	p := ProgramSpec{
		Inputs:  []RelationSpec{{Name: "In", Role: RoleInput}},
		Outputs: []RelationSpec{{Name: "OutA", Role: RoleOutput}, {Name: "OutB", Role: RoleOutput}},
	}

	rels := p.Relations()
	assert.Equal(t, []string{"In", "OutA", "OutB"}, []string{rels[0].Name, rels[1].Name, rels[2].Name})
}
