package ir

import (
	"math/big"
	"strconv"
	"strings"
)

// Record is a sealed interface representing a generic fact value.
// Only NamedStruct, Bool, Int, String and Tuple implement it.
type Record interface {
	record() // Sealed - only these types implement it
	String() string
}

// Field is one named member of a NamedStruct.
type Field struct {
	Name  string
	Value Record
}

// NamedStruct is a tagged struct value. Field order is significant.
type NamedStruct struct {
	Name   string
	Fields []Field
}

func (NamedStruct) record() {}

// Bool is a boolean record.
type Bool bool

func (Bool) record() {}

// Int is an arbitrary precision integer record.
// The zero value is 0.
type Int struct {
	v *big.Int
}

func (Int) record() {}

// String is a string record.
type String string

func (String) record() {}

// Tuple is a positional sequence of records.
type Tuple []Record

func (Tuple) record() {}

// Struct creates a NamedStruct from fields in order.
func Struct(name string, fields ...Field) NamedStruct {
	return NamedStruct{Name: name, Fields: fields}
}

// F is a shorthand for Field.
// Example: Struct("Stage.TableA", F("key1", NewInt(5)))
func F(name string, value Record) Field {
	return Field{Name: name, Value: value}
}

// NewInt creates an Int from an int64.
func NewInt(n int64) Int {
	return Int{v: big.NewInt(n)}
}

// NewBigInt creates an Int holding a copy of n.
func NewBigInt(n *big.Int) Int {
	if n == nil {
		return Int{}
	}
	return Int{v: new(big.Int).Set(n)}
}

// NewIntFromBytes creates a non-negative Int from a big-endian byte string.
func NewIntFromBytes(b []byte) Int {
	return Int{v: new(big.Int).SetBytes(b)}
}

// Big returns a copy of the integer value.
func (i Int) Big() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(i.v)
}

// Uint16 returns the value if it fits in 16 unsigned bits.
func (i Int) Uint16() (uint16, bool) {
	if i.v == nil {
		return 0, true
	}
	if i.v.Sign() < 0 || !i.v.IsUint64() {
		return 0, false
	}
	u := i.v.Uint64()
	if u > 0xFFFF {
		return 0, false
	}
	return uint16(u), true
}

// Int64 returns the value if it fits in int64.
func (i Int) Int64() (int64, bool) {
	if i.v == nil {
		return 0, true
	}
	if !i.v.IsInt64() {
		return 0, false
	}
	return i.v.Int64(), true
}

// Field returns the first field with the given name.
func (s NamedStruct) Field(name string) (Record, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// String renders the struct as Name{field: value, ...}.
func (s NamedStruct) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(recordString(f.Value))
	}
	b.WriteByte('}')
	return b.String()
}

func (b Bool) String() string {
	return strconv.FormatBool(bool(b))
}

func (i Int) String() string {
	if i.v == nil {
		return "0"
	}
	return i.v.String()
}

func (s String) String() string {
	return strconv.Quote(string(s))
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, r := range t {
		parts[i] = recordString(r)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func recordString(r Record) string {
	if r == nil {
		return "<nil>"
	}
	return r.String()
}

// Equal reports whether two records are structurally identical.
func Equal(a, b Record) bool {
	switch av := a.(type) {
	case NamedStruct:
		bv, ok := b.(NamedStruct)
		if !ok || av.Name != bv.Name || len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if av.Fields[i].Name != bv.Fields[i].Name || !Equal(av.Fields[i].Value, bv.Fields[i].Value) {
				return false
			}
		}
		return true
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av.Big().Cmp(bv.Big()) == 0
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}
