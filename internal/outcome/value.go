package outcome

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindJSON
)

// Value is one detail entry: a string, an integer, a float, a bool or a
// structured JSON document.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	raw  json.RawMessage
}

// Details maps detail names to values.
type Details map[string]Value

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int) Value       { return Value{kind: KindInt, i: int64(i)} }
func Int64(i int64) Value   { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

// JSON stores any marshalable value as structured JSON. A value that cannot
// be marshaled is kept as its fmt representation.
func JSON(v any) Value {
	raw, err := json.Marshal(v)
	if err != nil {
		return String(fmt.Sprintf("%v", v))
	}
	return Value{kind: KindJSON, raw: raw}
}

// String renders the value for console output.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindJSON:
		return string(v.raw)
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindJSON:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	default:
		return json.Marshal(v.s)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("outcome: empty detail value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{', '[', 'n':
		*v = Value{kind: KindJSON, raw: append(json.RawMessage(nil), trimmed...)}
	default:
		if i, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			*v = Int64(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return fmt.Errorf("outcome: invalid detail value %s: %w", trimmed, err)
		}
		*v = Float(f)
	}
	return nil
}
