package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type ValueKind int

const (
	Absent ValueKind = iota
	Text
	Number
)

// Value is a raw tracker data value: absent, a string, or a number.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

func TextValue(s string) Value    { return Value{Kind: Text, Str: s} }
func NumberValue(f float64) Value { return Value{Kind: Number, Num: f} }

func (v Value) IsAbsent() bool { return v.Kind == Absent }

// String renders the value the way it is used as a lookup key.
func (v Value) String() string {
	switch v.Kind {
	case Text:
		return v.Str
	case Number:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = TextValue(strconv.FormatBool(b))
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return fmt.Errorf("unsupported data value %s: %w", string(trimmed), err)
		}
		*v = NumberValue(f)
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case Text:
		return json.Marshal(v.Str)
	case Number:
		return json.Marshal(v.Num)
	default:
		return []byte("null"), nil
	}
}
