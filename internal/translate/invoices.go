package translate

// Legacy transaction types and statuses. The legacy system splits a
// document's timestamp into a date and a seconds-since-midnight field; the
// local row keeps a single created_datetime.

var invoiceType = NewEnum("invoice type",
	"ci", "OUTBOUND_SHIPMENT",
	"si", "INBOUND_SHIPMENT",
	"cr", "CUSTOMER_RETURN",
	"sr", "SUPPLIER_RETURN",
	"in", "INVENTORY_ADDITION",
	"ad", "INVENTORY_REDUCTION",
	"pi", "PRESCRIPTION",
	"rp", "REPACK",
)

var invoiceStatus = NewEnum("invoice status",
	"nw", "NEW",
	"sg", "ALLOCATED",
	"pk", "PICKED",
	"sh", "SHIPPED",
	"dl", "DELIVERED",
	"cn", "VERIFIED",
	"fn", "FINALISED",
)

var invoiceLineType = NewEnum("invoice line type",
	"stock_in", "STOCK_IN",
	"stock_out", "STOCK_OUT",
	"placeholder", "UNALLOCATED_STOCK",
	"service", "SERVICE",
)

// InvoiceTranslator handles shipments, returns and adjustments (legacy "transact").
func InvoiceTranslator() Translator {
	return MustNew(Mapping{
		Table:        "invoice",
		Wire:         []string{"transact"},
		Dependencies: []string{"name", StoreTable},
		Scope:        ScopeRule{Column: "store_id"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name_id", Wire: "name_ID", Kind: KindString, Ref: "name"},
			{Column: "store_id", Wire: "store_ID", Kind: KindString, Ref: StoreTable},
			{Column: "invoice_number", Wire: "invoice_num", Kind: KindInt},
			{Column: "type", Wire: "type", Kind: KindEnum, Enum: invoiceType},
			{Column: "status", Wire: "status", Kind: KindEnum, Enum: invoiceStatus},
			{Column: "on_hold", Wire: "hold", Kind: KindBool},
			{Column: "their_reference", Wire: "their_ref", Kind: KindString, Optional: true},
			{Column: "comment", Wire: "comment", Kind: KindString, Optional: true},
			{Column: "tax_percentage", Wire: "tax_rate", Kind: KindFloat, Optional: true},
		},
		DecodeHook: decodeSplitDatetime("created_datetime", "entry_date", "entry_time"),
		EncodeHook: encodeSplitDatetime("created_datetime", "entry_date", "entry_time"),
	})
}

// InvoiceLineTranslator handles lines of an invoice (legacy "trans_line").
// Lines carry no store column; their scope is the parent invoice's store.
func InvoiceLineTranslator() Translator {
	return MustNew(Mapping{
		Table:        "invoice_line",
		Wire:         []string{"trans_line"},
		Dependencies: []string{"invoice", "item", "stock_line", "location"},
		Scope:        ScopeRule{Column: "invoice_id", Via: "invoice"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "invoice_id", Wire: "transaction_ID", Kind: KindString, Ref: "invoice"},
			{Column: "item_id", Wire: "item_ID", Kind: KindString, Ref: "item"},
			{Column: "stock_line_id", Wire: "item_line_ID", Kind: KindString, Optional: true, Ref: "stock_line"},
			{Column: "location_id", Wire: "location_ID", Kind: KindString, Optional: true, Ref: "location"},
			{Column: "type", Wire: "type", Kind: KindEnum, Enum: invoiceLineType},
			{Column: "batch", Wire: "batch", Kind: KindString, Optional: true},
			{Column: "expiry_date", Wire: "expiry_date", Kind: KindDate, Optional: true},
			{Column: "pack_size", Wire: "pack_size", Kind: KindInt},
			{Column: "number_of_packs", Wire: "quantity", Kind: KindFloat},
			{Column: "cost_price_per_pack", Wire: "cost_price", Kind: KindFloat},
			{Column: "sell_price_per_pack", Wire: "sell_price", Kind: KindFloat},
			{Column: "note", Wire: "note", Kind: KindString, Optional: true},
		},
	})
}
