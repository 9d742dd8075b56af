// Package fingerprint computes the stable content digest used as the
// dedup key for stored extractions. The same article text always maps to
// the same key no matter which channel it arrived through (paste, CSV,
// WordPress import), which is what lets the store collapse re-submissions
// into a single record.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
