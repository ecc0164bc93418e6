package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/syncerr"
)

// FieldKind is the type a wire field decodes to.
type FieldKind int

const (
	KindString FieldKind = iota + 1
	KindInt
	KindFloat
	KindBool
	// KindDate is a "2006-01-02" date; the legacy "0000-00-00" means null.
	KindDate
	// KindEnum maps legacy codes to local names through an Enum.
	KindEnum
)

const (
	dateLayout     = "2006-01-02"
	legacyNullDate = "0000-00-00"

	// versionField carries the payload schema version when a peer sends one.
	versionField = "_version"
)

// Field maps one local column to one wire field.
type Field struct {
	Column string
	Wire   string
	Kind   FieldKind

	// Optional fields decode null, absent and "" to row.Null and encode
	// row.Null back to the legacy empty value.
	Optional bool

	// Enum is required for KindEnum.
	Enum *Enum

	// Ref names the local table this column points at.
	Ref string
}

// Enum is a bijection between legacy wire codes and local values.
type Enum struct {
	Name    string
	toLocal map[string]string
	toWire  map[string]string
}

// NewEnum builds an enum from (wire, local) pairs.
// Panics on an odd argument count or a duplicate on either side, since a
// non-bijective enum would break decode(encode(row)) == row.
func NewEnum(name string, pairs ...string) *Enum {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("enum %s: odd number of pair arguments", name))
	}
	e := &Enum{
		Name:    name,
		toLocal: make(map[string]string, len(pairs)/2),
		toWire:  make(map[string]string, len(pairs)/2),
	}
	for i := 0; i < len(pairs); i += 2 {
		wire, local := pairs[i], pairs[i+1]
		if _, dup := e.toLocal[wire]; dup {
			panic(fmt.Sprintf("enum %s: duplicate wire value %q", name, wire))
		}
		if _, dup := e.toWire[local]; dup {
			panic(fmt.Sprintf("enum %s: duplicate local value %q", name, local))
		}
		e.toLocal[wire] = local
		e.toWire[local] = wire
	}
	return e
}

// Local returns the local value for a wire code.
func (e *Enum) Local(wire string) (string, bool) {
	v, ok := e.toLocal[wire]
	return v, ok
}

// Wire returns the wire code for a local value.
func (e *Enum) Wire(local string) (string, bool) {
	v, ok := e.toWire[local]
	return v, ok
}

// Mapping declares a table translator.
type Mapping struct {
	Table        string
	Wire         []string
	Version      int
	Dependencies []string
	Scope        ScopeRule

	// Fields must start with the id field.
	Fields []Field

	// DecodeHook fills columns that have no one-to-one wire field.
	DecodeHook func(obj map[string]json.RawMessage, r row.Row) error

	// EncodeHook writes wire fields that have no one-to-one column.
	EncodeHook func(r row.Row, out map[string]any) error
}

type mappedTranslator struct {
	m    Mapping
	refs []Reference
}

// New validates a mapping and returns its translator.
func New(m Mapping) (Translator, error) {
	if m.Table == "" {
		return nil, fmt.Errorf("mapping has no table name")
	}
	if len(m.Wire) == 0 {
		return nil, fmt.Errorf("mapping %s claims no wire tables", m.Table)
	}
	if len(m.Fields) == 0 || m.Fields[0].Column != "id" || m.Fields[0].Kind != KindString || m.Fields[0].Optional {
		return nil, fmt.Errorf("mapping %s: first field must be the required string id", m.Table)
	}
	if m.Version <= 0 {
		m.Version = 1
	}

	deps := make(map[string]bool, len(m.Dependencies))
	for _, d := range m.Dependencies {
		deps[d] = true
	}

	columns := make(map[string]bool, len(m.Fields))
	wires := make(map[string]bool, len(m.Fields))
	var refs []Reference
	for _, f := range m.Fields {
		if columns[f.Column] {
			return nil, fmt.Errorf("mapping %s: duplicate column %q", m.Table, f.Column)
		}
		if wires[f.Wire] {
			return nil, fmt.Errorf("mapping %s: duplicate wire field %q", m.Table, f.Wire)
		}
		columns[f.Column] = true
		wires[f.Wire] = true

		if f.Kind == KindEnum && f.Enum == nil {
			return nil, fmt.Errorf("mapping %s: enum field %q has no enum", m.Table, f.Column)
		}
		if f.Ref != "" {
			// A reference to a table that is not integrated first could never be satisfied.
			if f.Ref != m.Table && !deps[f.Ref] {
				return nil, fmt.Errorf("mapping %s: column %q references %s which is not a dependency", m.Table, f.Column, f.Ref)
			}
			refs = append(refs, Reference{Column: f.Column, Table: f.Ref})
		}
	}
	if m.Scope.Via != "" && !deps[m.Scope.Via] {
		return nil, fmt.Errorf("mapping %s: scope parent %s is not a dependency", m.Table, m.Scope.Via)
	}

	return &mappedTranslator{m: m, refs: refs}, nil
}

// MustNew is New that panics; used for the built-in table declarations.
func MustNew(m Mapping) Translator {
	t, err := New(m)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *mappedTranslator) LocalTable() string      { return t.m.Table }
func (t *mappedTranslator) WireTables() []string    { return append([]string(nil), t.m.Wire...) }
func (t *mappedTranslator) Dependencies() []string  { return append([]string(nil), t.m.Dependencies...) }
func (t *mappedTranslator) References() []Reference { return append([]Reference(nil), t.refs...) }
func (t *mappedTranslator) Scope() ScopeRule        { return t.m.Scope }

func (t *mappedTranslator) idWire() string {
	return t.m.Fields[0].Wire
}

// DecodeUpsert implements Translator.
func (t *mappedTranslator) DecodeUpsert(payload []byte) (row.Row, error) {
	obj, err := parseObject(payload)
	if err != nil {
		return nil, syncerr.Translation(t.m.Table, "", "malformed payload", err)
	}
	id := peekString(obj, t.idWire())

	if err := t.checkVersion(obj, id); err != nil {
		return nil, err
	}

	r := make(row.Row, len(t.m.Fields)+2)
	for _, f := range t.m.Fields {
		raw, present := obj[f.Wire]
		v, err := decodeField(f, raw, present)
		if err != nil {
			return nil, syncerr.Translation(t.m.Table, id, fmt.Sprintf("field %s", f.Wire), err)
		}
		r[f.Column] = v
	}

	if t.m.DecodeHook != nil {
		if err := t.m.DecodeHook(obj, r); err != nil {
			return nil, syncerr.Translation(t.m.Table, id, "decode", err)
		}
	}

	if r.ID() == "" {
		return nil, syncerr.Translation(t.m.Table, "", "empty record id", nil)
	}
	return r, nil
}

// DecodeDelete implements Translator.
func (t *mappedTranslator) DecodeDelete(payload []byte) (string, error) {
	obj, err := parseObject(payload)
	if err != nil {
		return "", syncerr.Translation(t.m.Table, "", "malformed delete payload", err)
	}
	raw, ok := obj[t.idWire()]
	if !ok {
		return "", syncerr.Translation(t.m.Table, "", "delete payload has no id", nil)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return "", syncerr.Translation(t.m.Table, "", "delete payload id must be a non-empty string", err)
	}
	return id, nil
}

// Encode implements Translator.
func (t *mappedTranslator) Encode(r row.Row) ([]byte, error) {
	id := r.ID()
	out := make(map[string]any, len(t.m.Fields)+2)
	for _, f := range t.m.Fields {
		v, err := encodeField(f, r[f.Column])
		if err != nil {
			return nil, syncerr.Translation(t.m.Table, id, fmt.Sprintf("column %s", f.Column), err)
		}
		out[f.Wire] = v
	}

	if t.m.EncodeHook != nil {
		if err := t.m.EncodeHook(r, out); err != nil {
			return nil, syncerr.Translation(t.m.Table, id, "encode", err)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, syncerr.Translation(t.m.Table, id, "marshal payload", err)
	}
	return data, nil
}

// EncodeDelete implements Translator.
func (t *mappedTranslator) EncodeDelete(recordID string) ([]byte, error) {
	if recordID == "" {
		return nil, syncerr.Translation(t.m.Table, "", "empty record id", nil)
	}
	return json.Marshal(map[string]string{t.idWire(): recordID})
}

func (t *mappedTranslator) checkVersion(obj map[string]json.RawMessage, id string) error {
	raw, ok := obj[versionField]
	if !ok {
		return nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return syncerr.Translation(t.m.Table, id, "schema version is not an integer", err)
	}
	if v > t.m.Version {
		return syncerr.Translation(t.m.Table, id,
			fmt.Sprintf("schema version %d not supported (max %d)", v, t.m.Version), nil)
	}
	return nil
}

func parseObject(payload []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return obj, nil
}

// peekString reads a string field for error context, ignoring failures.
func peekString(obj map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := obj[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func isNullRaw(raw json.RawMessage, present bool) bool {
	return !present || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeField(f Field, raw json.RawMessage, present bool) (row.Value, error) {
	if isNullRaw(raw, present) {
		if f.Optional {
			return row.Null{}, nil
		}
		return nil, fmt.Errorf("required field is missing")
	}

	switch f.Kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected string: %w", err)
		}
		if s == "" && f.Optional {
			return row.Null{}, nil
		}
		return row.String(s), nil

	case KindInt:
		n, err := decodeInt(raw)
		if err != nil {
			return nil, err
		}
		return row.Int(n), nil

	case KindFloat:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("expected number: %w", err)
		}
		fv, err := n.Float64()
		if err != nil || math.IsNaN(fv) || math.IsInf(fv, 0) {
			return nil, fmt.Errorf("invalid number %s", n)
		}
		return row.Float(fv), nil

	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("expected boolean: %w", err)
		}
		return row.Bool(b), nil

	case KindDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected date string: %w", err)
		}
		if s == "" || s == legacyNullDate {
			if f.Optional {
				return row.Null{}, nil
			}
			return nil, fmt.Errorf("required date is empty")
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return row.String(s), nil

	case KindEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected enum string: %w", err)
		}
		if s == "" && f.Optional {
			return row.Null{}, nil
		}
		local, ok := f.Enum.Local(s)
		if !ok {
			return nil, fmt.Errorf("unknown %s value %q", f.Enum.Name, s)
		}
		return row.String(local), nil

	default:
		return nil, fmt.Errorf("unknown field kind %d", f.Kind)
	}
}

// decodeInt accepts integral JSON numbers, including ones written with a
// zero fraction ("3.0") by older peers.
func decodeInt(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("expected integer: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	fv, err := n.Float64()
	// Out-of-range integers reach here rounded to ±2^63. Exact int64
	// bounds were already taken by Int64 above.
	if err != nil || fv != math.Trunc(fv) || fv >= 0x1p63 || fv <= -0x1p63 {
		return 0, fmt.Errorf("expected integer, got %s", n)
	}
	return int64(fv), nil
}

func encodeField(f Field, v row.Value) (any, error) {
	if v == nil {
		v = row.Null{}
	}
	if _, null := v.(row.Null); null {
		if !f.Optional {
			return nil, fmt.Errorf("required column is null")
		}
		switch f.Kind {
		case KindString, KindEnum:
			return "", nil
		case KindDate:
			return legacyNullDate, nil
		default:
			return nil, nil
		}
	}

	switch f.Kind {
	case KindString, KindDate:
		s, ok := v.(row.String)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return string(s), nil

	case KindEnum:
		s, ok := v.(row.String)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		wire, known := f.Enum.Wire(string(s))
		if !known {
			return nil, fmt.Errorf("no legacy %s code for %q", f.Enum.Name, s)
		}
		return wire, nil

	case KindInt:
		n, ok := v.(row.Int)
		if !ok {
			return nil, fmt.Errorf("expected int, got %T", v)
		}
		return int64(n), nil

	case KindFloat:
		switch n := v.(type) {
		case row.Float:
			return float64(n), nil
		case row.Int:
			return float64(n), nil
		}
		return nil, fmt.Errorf("expected float, got %T", v)

	case KindBool:
		b, ok := v.(row.Bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return bool(b), nil

	default:
		return nil, fmt.Errorf("unknown field kind %d", f.Kind)
	}
}
