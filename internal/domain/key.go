package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Surrogate keys are SHA-256 hashes over the canonical (lowercase, trimmed)
// grouping-key fields joined with "|", truncated to 8 bytes and hex-encoded
// with a type prefix. The derivation is a cross-boundary contract: it must
// produce byte-identical keys for identical grouping keys across reruns and
// across implementations, so downstream upserts (ON CONFLICT DO UPDATE) stay
// idempotent. Keys never depend on aggregate values.

// FactKey derives the surrogate key for one (entity, UTC date) fact row,
// e.g. "fact-3a5b0c9d1e2f4a6b".
func FactKey(key EntityKey, date time.Time) string {
	return "fact-" + shortHash(key.canonical()+"|"+date.UTC().Format("2006-01-02"))
}

// CityKey derives the surrogate key for one entity's dimension row,
// e.g. "city-9d1e2f4a6b3a5b0c".
func CityKey(key EntityKey) string {
	return "city-" + shortHash(key.canonical())
}

func shortHash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:8])
}
