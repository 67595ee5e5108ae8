package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for a record.
// This is the ONLY serialization that should be used for fact identity.
//
// Encoding:
//   - NamedStruct: {"fields":[["name",value],...],"struct":"Name"}
//   - Tuple: [value,...]
//   - Int: bare decimal number of any length
//   - Bool, String: JSON literals; strings NFC normalized, no HTML escaping
func MarshalCanonical(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, r Record) error {
	switch v := r.(type) {
	case nil:
		return fmt.Errorf("nil record is not encodable")
	case NamedStruct:
		buf.WriteString(`{"fields":[`)
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('[')
			writeCanonicalString(buf, f.Name)
			buf.WriteByte(',')
			if err := writeCanonical(buf, f.Value); err != nil {
				return fmt.Errorf("%s.%s: %w", v.Name, f.Name, err)
			}
			buf.WriteByte(']')
		}
		buf.WriteString(`],"struct":`)
		writeCanonicalString(buf, v.Name)
		buf.WriteByte('}')
	case Tuple:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("tuple[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Int:
		buf.WriteString(v.String())
	case Bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case String:
		writeCanonicalString(buf, string(v))
	default:
		return fmt.Errorf("unsupported record type: %T", r)
	}
	return nil
}

// writeCanonicalString writes an NFC normalized JSON string.
// Only quote, backslash and control characters are escaped; <, > and & are
// written literally.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			_, size := utf8.DecodeRuneInString(s[i:])
			buf.WriteString(s[i : i+size])
			i += size
			continue
		}
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, c)
			} else {
				buf.WriteByte(c)
			}
		}
		i++
	}
	buf.WriteByte('"')
}

// UnmarshalCanonical decodes bytes produced by MarshalCanonical.
func UnmarshalCanonical(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return fromRaw(raw)
}

func fromRaw(v any) (Record, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a record")
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("non-integer number: %s", s)
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer: %s", s)
		}
		return Int{v: n}, nil
	case []any:
		t := make(Tuple, len(val))
		for i, elem := range val {
			r, err := fromRaw(elem)
			if err != nil {
				return nil, fmt.Errorf("tuple[%d]: %w", i, err)
			}
			t[i] = r
		}
		return t, nil
	case map[string]any:
		return structFromRaw(val)
	default:
		return nil, fmt.Errorf("unsupported JSON value: %T", v)
	}
}

func structFromRaw(m map[string]any) (Record, error) {
	name, ok := m["struct"].(string)
	if !ok {
		return nil, fmt.Errorf("object is missing struct name")
	}
	rawFields, ok := m["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("struct %s: fields must be an array", name)
	}

	s := NamedStruct{Name: name, Fields: make([]Field, 0, len(rawFields))}
	for i, rf := range rawFields {
		pair, ok := rf.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("struct %s: field %d must be a [name, value] pair", name, i)
		}
		fname, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("struct %s: field %d name must be a string", name, i)
		}
		fv, err := fromRaw(pair[1])
		if err != nil {
			return nil, fmt.Errorf("struct %s: field %s: %w", name, fname, err)
		}
		s.Fields = append(s.Fields, Field{Name: fname, Value: fv})
	}
	return s, nil
}
