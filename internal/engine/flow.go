package engine

import "github.com/google/uuid"

// IDGenerator generates sync session ids.
// Implemented by UUIDv7Generator; tests use testutil.SequentialIDGenerator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so session ids
// sort by start time in logs and in the session table.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
