// Package translate converts between a peer's wire records and local rows.
//
// Each table has one stateless Translator. A translator claims a local table
// name plus the wire table names peers use for it (the first is used when
// encoding, the rest are legacy aliases accepted on decode). It declares the
// local tables that must be integrated before it, the columns that reference
// other tables, and how the owning store of a row is found.
//
// Translators are collected in a Registry. Registry.Resolve orders them so
// every table comes after its dependencies; a cycle or a dependency nobody
// registered is a fatal configuration error reported at startup.
//
// Most tables are described declaratively with a Mapping: a list of fields
// naming the local column, the legacy wire field, its kind and whether it
// may be null. Tables whose legacy shape does not map field-for-field add
// decode/encode hooks.
package translate
