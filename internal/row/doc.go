// Package row defines the typed row representation shared by translators,
// the repository and the sync buffer.
//
// A Row is a map of column name to Value. Values are a closed set of types:
// Null, String, Int, Float and Bool. Rows are persisted and hashed in a
// canonical JSON form (sorted keys, NFC strings, no HTML escaping) so the
// same logical row always produces identical bytes and fingerprint on every
// site.
package row
