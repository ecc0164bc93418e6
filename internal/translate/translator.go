package translate

import "github.com/roach88/storesync/internal/row"

// StoreTable is the local table whose rows define which stores live on which site.
const StoreTable = "store"

// SiteColumn is the store column naming the site a store is active on.
const SiteColumn = "site_id"

// Reference is a column holding the id of a row in another local table.
type Reference struct {
	Column string
	Table  string
}

// ScopeRule says how to find the store that owns a row.
//
// With Via empty, the store id is read from Column directly. With Via set,
// Column holds the id of a parent row in table Via, and the store id is the
// parent's "store_id". A zero ScopeRule means the table is global.
type ScopeRule struct {
	Column string
	Via    string
}

// Global reports whether rows of the table are shared by every site.
func (s ScopeRule) Global() bool {
	return s.Column == ""
}

// Translator converts one table between wire payloads and local rows.
// Implementations hold no row state; every method is pure.
type Translator interface {
	// LocalTable is the table name used by the local repository and changelog.
	LocalTable() string

	// WireTables lists the table names accepted from peers. The first entry
	// is used when encoding.
	WireTables() []string

	// Dependencies lists local tables that must be integrated first.
	Dependencies() []string

	// References lists columns that must point at an existing row.
	References() []Reference

	// Scope describes how the owning store of a row is derived.
	Scope() ScopeRule

	// DecodeUpsert turns a wire payload into a local row.
	DecodeUpsert(payload []byte) (row.Row, error)

	// DecodeDelete extracts the record id from a delete payload.
	DecodeDelete(payload []byte) (string, error)

	// Encode turns a local row into a wire payload.
	Encode(r row.Row) ([]byte, error)

	// EncodeDelete builds the wire payload announcing a deleted record.
	EncodeDelete(recordID string) ([]byte, error)
}
