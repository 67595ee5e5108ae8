package ir

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordSealed(t *testing.T) {
	// Verify all types implement Record (compile-time check via assignment)
	var _ Record = Struct("T")
	var _ Record = Bool(true)
	var _ Record = NewInt(1)
	var _ Record = String("s")
	var _ Record = Tuple{NewInt(1)}
}

func TestInt_ZeroValue(t *testing.T) {
	var i Int
	assert.Equal(t, "0", i.String())

	u, ok := i.Uint16()
	assert.True(t, ok)
	assert.Equal(t, uint16(0), u)
}

func TestInt_Uint16(t *testing.T) {
	tests := []struct {
		name   string
		value  Int
		want   uint16
		wantOK bool
	}{
		{"small", NewInt(7), 7, true},
		{"max", NewInt(65535), 65535, true},
		{"overflow", NewInt(65536), 0, false},
		{"negative", NewInt(-1), 0, false},
		{"huge", NewBigInt(new(big.Int).Lsh(big.NewInt(1), 100)), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.Uint16()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewIntFromBytes(t *testing.T) {
	i := NewIntFromBytes([]byte{0x01, 0x00})
	assert.Equal(t, "256", i.String())
}

func TestNewBigInt_Copies(t *testing.T) {
	n := big.NewInt(5)
	i := NewBigInt(n)
	n.SetInt64(9)

	assert.Equal(t, "5", i.String(), "Int must not alias the caller's big.Int")
}

func TestNamedStruct_String(t *testing.T) {
	r := Struct("Stage.TableA",
		F("key1", NewInt(5)),
		F("action", Struct("Stage.ActionB", F("param1", NewInt(7)))),
		F("flag", Bool(true)),
		F("name", String("eth0")),
		F("pair", Tuple{NewInt(1), NewInt(2)}),
	)

	assert.Equal(t,
		`Stage.TableA{key1: 5, action: Stage.ActionB{param1: 7}, flag: true, name: "eth0", pair: (1, 2)}`,
		r.String())
}

func TestNamedStruct_Field(t *testing.T) {
	r := Struct("T", F("a", NewInt(1)), F("b", Bool(false)))

	v, ok := r.Field("b")
	assert.True(t, ok)
	assert.Equal(t, Bool(false), v)

	_, ok = r.Field("missing")
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	a := Struct("T", F("x", NewInt(1)), F("y", Tuple{String("a")}))
	b := Struct("T", F("x", NewInt(1)), F("y", Tuple{String("a")}))
	c := Struct("T", F("y", Tuple{String("a")}), F("x", NewInt(1)))

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c), "field order is significant")
	assert.False(t, Equal(NewInt(1), Bool(true)))
	assert.True(t, Equal(NewInt(0), Int{}))
}
