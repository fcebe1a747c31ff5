package kv

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindText
	KindFloat
	KindBool
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// Value is a tagged scalar stored under a key.
// The zero Value has KindInvalid: it can live in memory but cannot be persisted.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Int(n int64) Value     { return Value{kind: KindInt, i: n} }
func Text(s string) Value   { return Value{kind: KindText, s: s} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

// Bytes copies p.
func Bytes(p []byte) Value {
	return Value{kind: KindBytes, b: bytes.Clone(p)}
}

// Parse guesses the kind of a textual value: an integer if it parses as
// one, a finite float if it parses as one, text otherwise.
func Parse(s string) Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return Float(f)
	}
	return Text(s)
}

// ParseAs parses s as the named kind ("int", "text", "float", "bool" or
// "bytes", the latter base64-encoded). An empty kind behaves like Parse.
func ParseAs(kind, s string) (Value, error) {
	switch kind {
	case "":
		return Parse(s), nil
	case "int":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing int: %w", err)
		}
		return Int(n), nil
	case "text":
		return Text(s), nil
	case "float":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing float: %w", err)
		}
		return Float(f), nil
	case "bool":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parsing bool: %w", err)
		}
		return Bool(b), nil
	case "bytes":
		p, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, fmt.Errorf("parsing bytes: %w", err)
		}
		return Bytes(p), nil
	default:
		return Value{}, fmt.Errorf("unknown value type %q", kind)
	}
}

func (v Value) Kind() Kind { return v.kind }

// Valid reports whether v holds one of the persistable kinds.
func (v Value) Valid() bool { return v.kind != KindInvalid }

func (v Value) Int() (int64, bool)     { return v.i, v.kind == KindInt }
func (v Value) Text() (string, bool)   { return v.s, v.kind == KindText }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Bool() (bool, bool)     { return v.i != 0, v.kind == KindBool }

// Bytes returns a copy of the byte payload.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return bytes.Clone(v.b), true
}

// Truthy follows the usual dynamic-language rules: zero numbers, empty
// text, empty bytes, false and invalid values are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindInt, KindBool:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindText:
		return v.s != ""
	case KindBytes:
		return len(v.b) > 0
	default:
		return false
	}
}

// Equal reports whether v and o have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt, KindBool:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindText:
		return v.s
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindBytes:
		return strconv.Quote(string(v.b))
	default:
		return "<invalid>"
	}
}
