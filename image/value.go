package image

import (
	"fmt"
	"strconv"
)

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is a runtime value: an integer, a string or a boolean.
type Value struct {
	Kind Kind   `cbor:"1,keyasint"`
	Int  int64  `cbor:"2,keyasint,omitempty"`
	Str  string `cbor:"3,keyasint,omitempty"`
	Bool bool   `cbor:"4,keyasint,omitempty"`
}

// Int returns an integer value.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// String renders v in source syntax.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "<invalid>"
	}
}

// Equal reports whether v and o have the same kind and value.
func (v Value) Equal(o Value) bool {
	return v == o
}

// ParseValue parses a command-line argument: an integer, true, false or a
// double-quoted string. Anything else is taken as a bare string.
func ParseValue(s string) Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(n)
	}
	switch s {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if len(s) >= 2 && s[0] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return String(u)
		}
	}
	return String(s)
}
