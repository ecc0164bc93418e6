package row

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRow separates row fingerprints from any other hash in the system.
const DomainRow = "storesync/row/v1"

// Fingerprint returns a stable content hash of the row:
// SHA256(domain + 0x00 + canonical JSON), hex encoded.
// The repository compares fingerprints to make repeated upserts no-ops.
func Fingerprint(r Row) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainRow))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
