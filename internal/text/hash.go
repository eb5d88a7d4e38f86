package text

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash fingerprints text for deduplication. The text is
// normalized first (trimmed, whitespace runs collapsed to single spaces)
// so formatting-only changes do not defeat dedup, then hashed with
// SHA-256 to make collisions a non-concern at ingestion scale.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
