package vm

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the type held by a Value.
type ValueKind uint8

// Set of value kinds.
const (
	KindNone ValueKind = iota
	KindNumber
	KindString
)

// Value is a stack or storage cell. It holds either a number or a string.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
}

// Number constructs a numeric value.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// String constructs a string value.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// parseValue turns call data into a value. Anything that parses as a number
// is a number.
func parseValue(s string) Value {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(n)
	}
	return String(s)
}

// IsNone reports whether the value was never set.
func (v Value) IsNone() bool {
	return v.Kind == KindNone
}

// Truthy reports whether the value counts as true for REQUIRE and NOT.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	}
	return false
}

// Equal reports whether both values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	}
	return true
}

// String implements the fmt.Stringer interface.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Str
	}
	return "<none>"
}

// MarshalJSON encodes numbers as JSON numbers and strings as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case float64:
		*v = Number(t)
	case string:
		*v = String(t)
	default:
		return fmt.Errorf("unsupported value %s", data)
	}

	return nil
}
