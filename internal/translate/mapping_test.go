package translate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/row"
	"github.com/roach88/storesync/internal/syncerr"
)

var colour = NewEnum("colour", "r", "RED", "g", "GREEN")

func widgetMapping() Mapping {
	return Mapping{
		Table: "widget",
		Wire:  []string{"widget", "legacy_widget"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "count", Wire: "n", Kind: KindInt},
			{Column: "weight", Wire: "w", Kind: KindFloat, Optional: true},
			{Column: "colour", Wire: "c", Kind: KindEnum, Enum: colour},
			{Column: "made", Wire: "d", Kind: KindDate, Optional: true},
		},
	}
}

func TestMapping_Decode(t *testing.T) {
	tr := MustNew(widgetMapping())

	r, err := tr.DecodeUpsert([]byte(`{"ID":"w1","n":3.0,"w":1.5,"c":"g","d":"2024-02-29","extra":"ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, row.Row{
		"id":     row.String("w1"),
		"count":  row.Int(3),
		"weight": row.Float(1.5),
		"colour": row.String("GREEN"),
		"made":   row.String("2024-02-29"),
	}, r)
}

func TestMapping_DecodeErrorsAreTranslationErrors(t *testing.T) {
	tr := MustNew(widgetMapping())

	cases := map[string]string{
		"malformed":        `{"ID":`,
		"not an object":    `[1]`,
		"null payload":     `null`,
		"missing required": `{"ID":"w1","c":"r"}`,
		"wrong type":       `{"ID":"w1","n":"many","c":"r"}`,
		"fractional int":   `{"ID":"w1","n":2.5,"c":"r"}`,
		"int above range":  `{"ID":"w1","n":9223372036854775808,"c":"r"}`,
		"int below range":  `{"ID":"w1","n":-9223372036854775809,"c":"r"}`,
		"float at 2^63":    `{"ID":"w1","n":9.223372036854775808e18,"c":"r"}`,
		"unknown enum":     `{"ID":"w1","n":1,"c":"purple"}`,
		"bad date":         `{"ID":"w1","n":1,"c":"r","d":"2024-13-01"}`,
		"empty id":         `{"ID":"","n":1,"c":"r"}`,
		"newer version":    `{"ID":"w1","n":1,"c":"r","_version":2}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tr.DecodeUpsert([]byte(payload))
			require.Error(t, err)
			assert.Equal(t, syncerr.KindTranslation, syncerr.KindOf(err))
		})
	}
}

func TestMapping_DecodeIntBounds(t *testing.T) {
	tr := MustNew(widgetMapping())

	r, err := tr.DecodeUpsert([]byte(`{"ID":"w1","n":9223372036854775807,"c":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, row.Int(math.MaxInt64), r["count"])

	r, err = tr.DecodeUpsert([]byte(`{"ID":"w1","n":-9223372036854775808,"c":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, row.Int(math.MinInt64), r["count"])

	_, err = tr.DecodeUpsert([]byte(`{"ID":"w1","n":9223372036854775808,"c":"r"}`))
	require.Error(t, err)
	assert.Equal(t, syncerr.KindTranslation, syncerr.KindOf(err))
}

func TestMapping_CurrentVersionAccepted(t *testing.T) {
	tr := MustNew(widgetMapping())
	_, err := tr.DecodeUpsert([]byte(`{"ID":"w1","n":1,"c":"r","_version":1}`))
	assert.NoError(t, err)
}

func TestMapping_EncodeNulls(t *testing.T) {
	tr := MustNew(widgetMapping())

	out, err := tr.Encode(row.Row{
		"id":     row.String("w1"),
		"count":  row.Int(1),
		"weight": row.Null{},
		"colour": row.String("RED"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ID":"w1","n":1,"w":null,"c":"r","d":"0000-00-00"}`, string(out))
}

func TestMapping_EncodeErrors(t *testing.T) {
	tr := MustNew(widgetMapping())

	_, err := tr.Encode(row.Row{"id": row.String("w1"), "colour": row.String("RED")})
	assert.Error(t, err, "required column missing")

	_, err = tr.Encode(row.Row{"id": row.String("w1"), "count": row.String("1"), "colour": row.String("RED")})
	assert.Error(t, err, "type mismatch")

	_, err = tr.Encode(row.Row{"id": row.String("w1"), "count": row.Int(1), "colour": row.String("BLUE")})
	assert.Error(t, err, "no legacy code")
	assert.Equal(t, syncerr.KindTranslation, syncerr.KindOf(err))
}

func TestMapping_DecodeDelete(t *testing.T) {
	tr := MustNew(widgetMapping())

	id, err := tr.DecodeDelete([]byte(`{"ID":"w7"}`))
	require.NoError(t, err)
	assert.Equal(t, "w7", id)

	_, err = tr.DecodeDelete([]byte(`{}`))
	assert.Error(t, err)
	_, err = tr.DecodeDelete([]byte(`{"ID":""}`))
	assert.Error(t, err)
	_, err = tr.DecodeDelete(nil)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	m := widgetMapping()
	m.Fields = m.Fields[1:]
	_, err := New(m)
	assert.Error(t, err, "id must come first")

	m = widgetMapping()
	m.Fields = append(m.Fields, Field{Column: "owner", Wire: "o", Kind: KindString, Ref: "person"})
	_, err = New(m)
	assert.Error(t, err, "reference must be a dependency")

	m = widgetMapping()
	m.Fields = append(m.Fields, Field{Column: "count", Wire: "n2", Kind: KindInt})
	_, err = New(m)
	assert.Error(t, err, "duplicate column")

	m = widgetMapping()
	m.Fields = append(m.Fields, Field{Column: "shade", Wire: "s", Kind: KindEnum})
	_, err = New(m)
	assert.Error(t, err, "enum without table")

	m = widgetMapping()
	m.Scope = ScopeRule{Column: "box_id", Via: "box"}
	_, err = New(m)
	assert.Error(t, err, "scope parent must be a dependency")

	m = widgetMapping()
	m.Wire = nil
	_, err = New(m)
	assert.Error(t, err)
}

func TestNewEnum_PanicsWhenNotBijective(t *testing.T) {
	assert.Panics(t, func() { NewEnum("x", "a", "A", "b", "A") })
	assert.Panics(t, func() { NewEnum("x", "a", "A", "a", "B") })
	assert.Panics(t, func() { NewEnum("x", "a") })
}
