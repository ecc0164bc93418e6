package translate

var itemType = NewEnum("item type",
	"general", "STOCK",
	"service", "SERVICE",
	"non_stock", "NON_STOCK",
)

// UnitTranslator handles units of measure.
func UnitTranslator() Translator {
	return MustNew(Mapping{
		Table: "unit",
		Wire:  []string{"unit"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name", Wire: "units", Kind: KindString},
			{Column: "description", Wire: "comment", Kind: KindString, Optional: true},
			{Column: "index", Wire: "order_number", Kind: KindInt},
		},
	})
}

// ItemTranslator handles the item catalogue.
func ItemTranslator() Translator {
	return MustNew(Mapping{
		Table:        "item",
		Wire:         []string{"item"},
		Dependencies: []string{"unit"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name", Wire: "item_name", Kind: KindString},
			{Column: "code", Wire: "code", Kind: KindString},
			{Column: "unit_id", Wire: "unit_ID", Kind: KindString, Optional: true, Ref: "unit"},
			{Column: "type", Wire: "type_of", Kind: KindEnum, Enum: itemType},
			{Column: "default_pack_size", Wire: "default_pack_size", Kind: KindInt},
			{Column: "is_vaccine", Wire: "is_vaccine", Kind: KindBool},
			{Column: "strength", Wire: "strength", Kind: KindString, Optional: true},
			{Column: "volume_per_pack", Wire: "volume_per_pack", Kind: KindFloat},
		},
	})
}

// MasterListTranslator handles curated item lists.
func MasterListTranslator() Translator {
	return MustNew(Mapping{
		Table: "master_list",
		Wire:  []string{"list_master"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name", Wire: "description", Kind: KindString},
			{Column: "code", Wire: "code", Kind: KindString},
			{Column: "description", Wire: "note", Kind: KindString, Optional: true},
			{Column: "is_active", Wire: "inactive", Kind: KindBool},
		},
		// The legacy flag is "inactive"; flip it so local reads are positive.
		DecodeHook: invertBool("is_active"),
		EncodeHook: invertWireBool("is_active", "inactive"),
	})
}

// MasterListLineTranslator handles items on a master list.
func MasterListLineTranslator() Translator {
	return MustNew(Mapping{
		Table:        "master_list_line",
		Wire:         []string{"list_master_line"},
		Dependencies: []string{"master_list", "item"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "master_list_id", Wire: "item_master_ID", Kind: KindString, Ref: "master_list"},
			{Column: "item_id", Wire: "item_ID", Kind: KindString, Ref: "item"},
			{Column: "price", Wire: "price", Kind: KindFloat, Optional: true},
		},
	})
}
