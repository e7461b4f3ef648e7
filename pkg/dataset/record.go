// Package dataset holds the immutable record sequence that a load test draws
// request bodies from, and the cursor that hands records out to virtual users.
package dataset

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindNull is the zero Kind.
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	// KindRaw holds a nested JSON object or array verbatim.
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Value is a single field value of a Record. The zero Value is null.
type Value struct {
	kind Kind
	text string // string contents, number literal, or raw JSON
	num  float64
	b    bool
}

// String returns a string Value.
func String(s string) Value {
	return Value{kind: KindString, text: s}
}

// Number returns a numeric Value.
func Number(n float64) Value {
	return Value{kind: KindNumber, num: n}
}

// numberLiteral keeps the literal from the source document so re-encoding
// does not change 50000 into 5e+04.
func numberLiteral(n float64, literal string) Value {
	return Value{kind: KindNumber, num: n, text: literal}
}

// Bool returns a boolean Value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Null returns the null Value.
func Null() Value {
	return Value{}
}

// Raw wraps an already-encoded JSON object or array.
func Raw(raw string) Value {
	return Value{kind: KindRaw, text: raw}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Text returns the string contents of a string Value, or "" otherwise.
func (v Value) Text() string {
	if v.kind != KindString {
		return ""
	}
	return v.text
}

// Float returns the numeric contents of a number Value.
func (v Value) Float() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Truth returns the contents of a bool Value.
func (v Value) Truth() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Interface converts v into the type encoding/json would decode it to.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.text
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindRaw:
		var out interface{}
		if err := json.Unmarshal([]byte(v.text), &out); err != nil {
			return v.text
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether two values hold the same variant and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString, KindRaw:
		return v.text == o.text
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber:
		if v.text != "" {
			return []byte(v.text), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'f', -1, 64)), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindRaw:
		return []byte(v.text), nil
	default:
		return []byte("null"), nil
	}
}

// Field is a named Value.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping of field names to values. Records are never
// modified in place; With returns a copy.
type Record struct {
	fields []Field
}

// NewRecord builds a Record from fields in order. A repeated name replaces
// the earlier value but keeps its position.
func NewRecord(fields ...Field) Record {
	r := Record{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		if i := r.index(f.Name); i >= 0 {
			r.fields[i].Value = f.Value
			continue
		}
		r.fields = append(r.fields, f)
	}
	return r
}

func (r Record) index(name string) int {
	for i, f := range r.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Get returns the value of the named field.
func (r Record) Get(name string) (Value, bool) {
	if i := r.index(name); i >= 0 {
		return r.fields[i].Value, true
	}
	return Value{}, false
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Names returns the field names in order.
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// With returns a shallow copy of r with the named field set to v. An existing
// field keeps its position; a new one is appended.
func (r Record) With(name string, v Value) Record {
	i := r.index(name)
	n := len(r.fields)
	if i < 0 {
		n++
	}
	fields := make([]Field, len(r.fields), n)
	copy(fields, r.fields)
	if i >= 0 {
		fields[i].Value = v
	} else {
		fields = append(fields, Field{Name: name, Value: v})
	}
	return Record{fields: fields}
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
