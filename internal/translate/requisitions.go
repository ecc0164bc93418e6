package translate

var requisitionType = NewEnum("requisition type",
	"request", "REQUEST",
	"response", "RESPONSE",
)

var requisitionStatus = NewEnum("requisition status",
	"sg", "DRAFT",
	"cn", "NEW",
	"fn", "FINALISED",
)

// RequisitionTranslator handles stock requests between stores.
func RequisitionTranslator() Translator {
	return MustNew(Mapping{
		Table:        "requisition",
		Wire:         []string{"requisition"},
		Dependencies: []string{"name", StoreTable},
		Scope:        ScopeRule{Column: "store_id"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "requisition_number", Wire: "serial_number", Kind: KindInt},
			{Column: "name_id", Wire: "name_ID", Kind: KindString, Ref: "name"},
			{Column: "store_id", Wire: "store_ID", Kind: KindString, Ref: StoreTable},
			{Column: "type", Wire: "type", Kind: KindEnum, Enum: requisitionType},
			{Column: "status", Wire: "status", Kind: KindEnum, Enum: requisitionStatus},
			{Column: "created_date", Wire: "date_entered", Kind: KindDate},
			{Column: "max_months_of_stock", Wire: "thresholdMOS", Kind: KindFloat},
			{Column: "their_reference", Wire: "requester_reference", Kind: KindString, Optional: true},
			{Column: "comment", Wire: "comment", Kind: KindString, Optional: true},
		},
	})
}

// RequisitionLineTranslator handles requested items. Scope follows the parent requisition.
func RequisitionLineTranslator() Translator {
	return MustNew(Mapping{
		Table:        "requisition_line",
		Wire:         []string{"requisition_line"},
		Dependencies: []string{"requisition", "item"},
		Scope:        ScopeRule{Column: "requisition_id", Via: "requisition"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "requisition_id", Wire: "requisition_ID", Kind: KindString, Ref: "requisition"},
			{Column: "item_id", Wire: "item_ID", Kind: KindString, Ref: "item"},
			{Column: "requested_quantity", Wire: "Cust_stock_order", Kind: KindFloat},
			{Column: "suggested_quantity", Wire: "suggested_quantity", Kind: KindFloat},
			{Column: "supply_quantity", Wire: "actualQuan", Kind: KindFloat},
			{Column: "available_stock_on_hand", Wire: "stock_on_hand", Kind: KindFloat},
			{Column: "comment", Wire: "comment", Kind: KindString, Optional: true},
		},
	})
}
