package source

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint returns a content-addressed digest of the document.
//
// The document is canonicalized through encoding/json (map keys sort, item
// order is preserved) before hashing, so two fetches of semantically equal
// content produce the same digest regardless of map iteration order.
func Fingerprint(d Document) string {
	b, err := json.Marshal(d)
	if err != nil {
		// Document is plain data; Marshal only fails on unsupported types.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
