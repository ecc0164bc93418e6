package translate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storesync/internal/row"
)

func loadFixture(t *testing.T, table string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "fixtures", table+".json"))
	require.NoError(t, err)
	return data
}

func TestBuiltins_RoundTrip(t *testing.T) {
	for _, tr := range Builtins() {
		t.Run(tr.LocalTable(), func(t *testing.T) {
			decoded, err := tr.DecodeUpsert(loadFixture(t, tr.LocalTable()))
			require.NoError(t, err)

			encoded, err := tr.Encode(decoded)
			require.NoError(t, err)

			again, err := tr.DecodeUpsert(encoded)
			require.NoError(t, err)
			assert.True(t, row.Equal(decoded, again), "decode(encode(row)) must equal row\nfirst:  %v\nsecond: %v", decoded, again)
		})
	}
}

func TestBuiltins_GoldenEncoding(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tr := range Builtins() {
		t.Run(tr.LocalTable(), func(t *testing.T) {
			decoded, err := tr.DecodeUpsert(loadFixture(t, tr.LocalTable()))
			require.NoError(t, err)

			encoded, err := tr.Encode(decoded)
			require.NoError(t, err)
			g.Assert(t, tr.LocalTable(), encoded)
		})
	}
}

func TestBuiltins_DeleteRoundTrip(t *testing.T) {
	for _, tr := range Builtins() {
		payload, err := tr.EncodeDelete("rec-9")
		require.NoError(t, err, tr.LocalTable())

		id, err := tr.DecodeDelete(payload)
		require.NoError(t, err, tr.LocalTable())
		assert.Equal(t, "rec-9", id, tr.LocalTable())
	}
}

func TestBuiltins_ReferencesAreDependencies(t *testing.T) {
	for _, tr := range Builtins() {
		deps := tr.Dependencies()
		for _, ref := range tr.References() {
			assert.Contains(t, deps, ref.Table, "%s.%s", tr.LocalTable(), ref.Column)
		}
	}
}

func TestDefault_ResolvesInDependencyOrder(t *testing.T) {
	ordered, err := Default().Resolve()
	require.NoError(t, err)

	names := make([]string, len(ordered))
	for i, tr := range ordered {
		names[i] = tr.LocalTable()
	}
	assert.Equal(t, []string{
		"master_list", "name", "store", "invoice", "location", "name_store_join",
		"requisition", "unit", "item", "master_list_line", "requisition_line",
		"stock_line", "invoice_line",
	}, names)
}

func TestInvoice_CombinesLegacyDateAndTime(t *testing.T) {
	r, err := InvoiceTranslator().DecodeUpsert(loadFixture(t, "invoice"))
	require.NoError(t, err)

	assert.Equal(t, row.String("2024-05-14T09:30:00"), r["created_datetime"])
	assert.Equal(t, row.String("OUTBOUND_SHIPMENT"), r["type"])
	assert.Equal(t, row.String("ALLOCATED"), r["status"])
	assert.Equal(t, row.Null{}, r["tax_percentage"])
	assert.Equal(t, row.Null{}, r["comment"])
}

func TestInvoice_RejectsTimeOutsideDay(t *testing.T) {
	_, err := InvoiceTranslator().DecodeUpsert([]byte(`{"ID":"x","name_ID":"n","store_ID":"s","invoice_num":1,"type":"ci","status":"nw","hold":false,"entry_date":"2024-01-01","entry_time":86400}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry_time")
}

func TestStockLine_LegacyNulls(t *testing.T) {
	r, err := StockLineTranslator().DecodeUpsert([]byte(`{"ID":"sl","item_ID":"i","store_ID":"s","location_ID":"","batch":"","expiry_date":"0000-00-00","pack_size":1,"cost_price":1,"sell_price":2,"available":3,"quantity":3,"hold":true}`))
	require.NoError(t, err)

	assert.Equal(t, row.Null{}, r["location_id"])
	assert.Equal(t, row.Null{}, r["expiry_date"])
	assert.Equal(t, row.Null{}, r["note"], "absent optional field decodes to null")
	assert.Equal(t, row.Float(1), r["cost_price_per_pack"])
	assert.Equal(t, row.Bool(true), r["on_hold"])
}

func TestMasterList_InvertsInactiveFlag(t *testing.T) {
	tr := MasterListTranslator()
	r, err := tr.DecodeUpsert([]byte(`{"ID":"ml","description":"d","code":"c","inactive":true}`))
	require.NoError(t, err)
	assert.Equal(t, row.Bool(false), r["is_active"])

	out, err := tr.Encode(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"inactive":true`)
}

func TestLocation_AcceptsLegacyAlias(t *testing.T) {
	reg := Default()
	a, ok := reg.ForWire("Location")
	require.True(t, ok)
	b, ok := reg.ForWire("location")
	require.True(t, ok)
	assert.Equal(t, "location", a.LocalTable())
	assert.Same(t, a, b)
	assert.Equal(t, "location", a.WireTables()[0], "encode uses the first wire name")
}

func TestInvoiceLine_ScopeViaInvoice(t *testing.T) {
	scope := InvoiceLineTranslator().Scope()
	assert.Equal(t, ScopeRule{Column: "invoice_id", Via: "invoice"}, scope)
	assert.False(t, scope.Global())
	assert.True(t, ItemTranslator().Scope().Global())
}
