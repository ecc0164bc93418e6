package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces the canonical JSON form of a row:
//   - keys sorted by UTF-16 code units
//   - strings NFC normalised, no HTML escaping
//   - floats always carry a fraction or exponent so they decode back as Float
//
// This is the only encoding used for persisted rows and fingerprints.
func MarshalCanonical(r Row) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range r.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(r[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a single value canonically.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return marshalString(string(val))
	case Int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case Float:
		return marshalFloat(float64(val))
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	default:
		return nil, fmt.Errorf("unknown value type %T", v)
	}
}

func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float %v", f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

// marshalString NFC-normalises s and encodes it without HTML escaping.
// U+2028 and U+2029 are emitted literally.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators turns \u2028 and \u2029 escapes back into literal
// characters, leaving an escaped backslash followed by "u2028" untouched.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			if data[i+1] == 'u' && i+5 < len(data) &&
				data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
				(data[i+5] == '8' || data[i+5] == '9') {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
			// Any other escape: copy both bytes so "\\" pairs are never split.
			out = append(out, data[i], data[i+1])
			i++
			continue
		}
		out = append(out, data[i])
	}
	return out
}
