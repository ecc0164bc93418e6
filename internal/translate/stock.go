package translate

// LocationTranslator handles storage locations inside a store. Older peers
// send the table as "Location".
func LocationTranslator() Translator {
	return MustNew(Mapping{
		Table:        "location",
		Wire:         []string{"location", "Location"},
		Dependencies: []string{StoreTable},
		Scope:        ScopeRule{Column: "store_id"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name", Wire: "Description", Kind: KindString},
			{Column: "code", Wire: "code", Kind: KindString},
			{Column: "on_hold", Wire: "hold", Kind: KindBool},
			{Column: "store_id", Wire: "store_ID", Kind: KindString, Ref: StoreTable},
		},
	})
}

// StockLineTranslator handles batches of an item held in a store (legacy "item_line").
func StockLineTranslator() Translator {
	return MustNew(Mapping{
		Table:        "stock_line",
		Wire:         []string{"item_line"},
		Dependencies: []string{"item", StoreTable, "location"},
		Scope:        ScopeRule{Column: "store_id"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "item_id", Wire: "item_ID", Kind: KindString, Ref: "item"},
			{Column: "store_id", Wire: "store_ID", Kind: KindString, Ref: StoreTable},
			{Column: "location_id", Wire: "location_ID", Kind: KindString, Optional: true, Ref: "location"},
			{Column: "batch", Wire: "batch", Kind: KindString, Optional: true},
			{Column: "expiry_date", Wire: "expiry_date", Kind: KindDate, Optional: true},
			{Column: "pack_size", Wire: "pack_size", Kind: KindInt},
			{Column: "cost_price_per_pack", Wire: "cost_price", Kind: KindFloat},
			{Column: "sell_price_per_pack", Wire: "sell_price", Kind: KindFloat},
			{Column: "available_number_of_packs", Wire: "available", Kind: KindFloat},
			{Column: "total_number_of_packs", Wire: "quantity", Kind: KindFloat},
			{Column: "on_hold", Wire: "hold", Kind: KindBool},
			{Column: "note", Wire: "note", Kind: KindString, Optional: true},
		},
	})
}
