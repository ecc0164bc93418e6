package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the column value types a Row may hold.
type Value interface {
	rowValue()
}

// Null is an absent column value.
type Null struct{}

func (Null) rowValue() {}

// String is a text column value.
type String string

func (String) rowValue() {}

// Int is an integral column value.
type Int int64

func (Int) rowValue() {}

// Float is a fractional column value (quantities, prices).
// NaN and infinities cannot be serialised.
type Float float64

func (Float) rowValue() {}

// Bool is a boolean column value.
type Bool bool

func (Bool) rowValue() {}

// Row is one local record keyed by column name.
type Row map[string]Value

// ID returns the row's "id" column, or "" when it is missing or not a string.
func (r Row) ID() string {
	s, _ := r.Str("id")
	return s
}

// Str returns a string column. ok is false for missing, null or non-string values.
func (r Row) Str(col string) (string, bool) {
	v, found := r[col]
	if !found {
		return "", false
	}
	s, isStr := v.(String)
	if !isStr {
		return "", false
	}
	return string(s), true
}

// IsNull reports whether col is missing or explicitly Null.
func (r Row) IsNull(col string) bool {
	v, found := r[col]
	if !found {
		return true
	}
	_, null := v.(Null)
	return null
}

// Clone returns a shallow copy. Values are immutable so this is a full copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortedKeys returns column names in canonical order (UTF-16 code units).
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 orders keys by UTF-16 code units rather than UTF-8 bytes,
// matching the ordering other canonical JSON implementations produce.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports whether two rows hold the same columns with identical typed values.
// A Float and an Int with the same numeric value are NOT equal.
func Equal(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !valueEqual(av, bv) {
			return false
		}
	}
	return true
}

func valueEqual(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	default:
		return false
	}
}

// MarshalJSON encodes the row in canonical form.
func (r Row) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r)
}

// UnmarshalJSON decodes a JSON object into typed values.
// Numbers with a fraction or exponent become Float, all others Int.
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("row must be a JSON object")
	}

	out := make(Row, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("column %q: %w", k, err)
		}
		out[k] = val
	}
	*r = out
	return nil
}

// Unmarshal parses canonical (or any) JSON object bytes into a Row.
func Unmarshal(data []byte) (Row, error) {
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	return r, nil
}

func unmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case 'n':
		return Null{}, nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case '[', '{':
		return nil, fmt.Errorf("nested values are not supported in rows")
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		if isFractional(string(n)) {
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("invalid number %s: %w", n, err)
			}
			return Float(f), nil
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", n)
		}
		return Int(i), nil
	}
}

func isFractional(s string) bool {
	return strings.ContainsAny(s, ".eE")
}

// FromAny converts a plain Go value (as produced by YAML or JSON decoding)
// into a Value. Integral float64 values stay Float.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("non-finite float %v", val)
		}
		return Float(val), nil
	case json.Number:
		return unmarshalValue([]byte(val))
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// FromMap converts a map of plain Go values into a Row.
func FromMap(m map[string]any) (Row, error) {
	out := make(Row, len(m))
	for k, v := range m {
		val, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}
