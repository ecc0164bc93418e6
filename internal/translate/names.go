package translate

// Name, store and the join between them. Names are the shared directory of
// facilities, customers, suppliers and patients; a store is a name that
// holds stock and is active on exactly one site.

var nameType = NewEnum("name type",
	"facility", "FACILITY",
	"store", "STORE",
	"patient", "PATIENT",
	"build", "BUILD",
	"invad", "INVENTORY_ADJUSTMENT",
	"repack", "REPACK",
	"others", "OTHERS",
)

var storeMode = NewEnum("store mode",
	"store", "STORE",
	"dispensary", "DISPENSARY",
	"drug_registration", "DRUG_REGISTRATION",
)

// NameTranslator handles the legacy "name" table.
func NameTranslator() Translator {
	return MustNew(Mapping{
		Table: "name",
		Wire:  []string{"name"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name", Wire: "name", Kind: KindString},
			{Column: "code", Wire: "code", Kind: KindString},
			{Column: "type", Wire: "type", Kind: KindEnum, Enum: nameType},
			{Column: "is_customer", Wire: "customer", Kind: KindBool},
			{Column: "is_supplier", Wire: "supplier", Kind: KindBool},
			{Column: "first_name", Wire: "first", Kind: KindString, Optional: true},
			{Column: "last_name", Wire: "last", Kind: KindString, Optional: true},
			{Column: "date_of_birth", Wire: "date_of_birth", Kind: KindDate, Optional: true},
			{Column: "phone", Wire: "phone", Kind: KindString, Optional: true},
			{Column: "comment", Wire: "comment", Kind: KindString, Optional: true},
		},
	})
}

// StoreTranslator handles the legacy "store" table. The site column is what
// the active-store filter reads to decide which stores a site owns.
func StoreTranslator() Translator {
	return MustNew(Mapping{
		Table:        StoreTable,
		Wire:         []string{"store"},
		Dependencies: []string{"name"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name_id", Wire: "name_ID", Kind: KindString, Ref: "name"},
			{Column: "code", Wire: "code", Kind: KindString},
			{Column: SiteColumn, Wire: "sync_id_remote_site", Kind: KindString},
			{Column: "store_mode", Wire: "store_mode", Kind: KindEnum, Enum: storeMode},
			{Column: "disabled", Wire: "disabled", Kind: KindBool},
		},
	})
}

// NameStoreJoinTranslator handles visibility of names inside a store.
func NameStoreJoinTranslator() Translator {
	return MustNew(Mapping{
		Table:        "name_store_join",
		Wire:         []string{"name_store_join"},
		Dependencies: []string{"name", StoreTable},
		Scope:        ScopeRule{Column: "store_id"},
		Fields: []Field{
			{Column: "id", Wire: "ID", Kind: KindString},
			{Column: "name_id", Wire: "name_ID", Kind: KindString, Ref: "name"},
			{Column: "store_id", Wire: "store_ID", Kind: KindString, Ref: StoreTable},
			{Column: "name_is_customer", Wire: "is_customer", Kind: KindBool},
			{Column: "name_is_supplier", Wire: "is_supplier", Kind: KindBool},
			{Column: "inactive", Wire: "inactive", Kind: KindBool},
		},
	})
}
