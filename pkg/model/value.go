package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is the dynamic type of a Scalar.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindString
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Scalar is a normalized command value: null, a bool or a string.
// The zero value is null.
type Scalar struct {
	kind Kind
	b    bool
	s    string
}

// Null returns the null value.
func Null() Scalar { return Scalar{} }

// Bool returns a boolean value.
func Bool(b bool) Scalar { return Scalar{kind: KindBool, b: b} }

// String returns a string value. The literals "null", "true" and "false" are
// kept as strings; use NormalizeValue to coerce them.
func String(s string) Scalar { return Scalar{kind: KindString, s: s} }

// NormalizeValue converts a raw payload value the way the plugin stores it:
// "null", "true" and "false" become typed values, numbers become their
// decimal representation and any other string is kept as is.
func NormalizeValue(v any) Scalar {
	switch x := v.(type) {
	case nil:
		return Null()
	case Scalar:
		if x.kind == KindString {
			return NormalizeValue(x.s)
		}
		return x
	case bool:
		return Bool(x)
	case string:
		switch x {
		case "null":
			return Null()
		case "true":
			return Bool(true)
		case "false":
			return Bool(false)
		}
		return String(x)
	case []byte:
		return NormalizeValue(string(x))
	case json.Number:
		return String(x.String())
	case int:
		return String(strconv.Itoa(x))
	case int64:
		return String(strconv.FormatInt(x, 10))
	case int32:
		return String(strconv.FormatInt(int64(x), 10))
	case uint:
		return String(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return String(strconv.FormatUint(x, 10))
	case float64:
		return String(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return String(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case fmt.Stringer:
		return String(x.String())
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind returns the dynamic type of the value.
func (v Scalar) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Scalar) IsNull() bool { return v.kind == KindNull }

// Interface returns nil, a bool or a string.
func (v Scalar) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		return v.s
	default:
		return nil
	}
}

// String returns the value as it would be published on MQTT.
func (v Scalar) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.s
	default:
		return "null"
	}
}

// MarshalJSON encodes the value as a JSON null, boolean or string.
func (v Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON scalar. Numbers are stored as strings.
func (v *Scalar) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Null()
	case bool:
		*v = Bool(x)
	case string:
		*v = String(x)
	case json.Number:
		*v = String(x.String())
	default:
		return fmt.Errorf("model: cannot decode %s into a scalar value", data)
	}
	return nil
}
