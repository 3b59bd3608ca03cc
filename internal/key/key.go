// Package key implements canonical content-hash keying of (builder, config)
// pairs (spec §3.1, §4.A): a 56-char hex SHA-224 digest of the canonical
// textual encoding, so that two configs equal up to mapping order and
// private (__-prefixed) fields hash identically (P2).
package key

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/spirali/orco/internal/value"
)

// Length is the fixed hex digest length (SHA-224 produces 28 bytes = 56
// hex chars).
const Length = 56

// Canonical computes the content-hash key for (builderName, cfg).
func Canonical(builderName string, cfg value.Value) string {
	text := builderName + "!" + value.Encode(cfg)
	sum := sha256.Sum224([]byte(text))
	return hex.EncodeToString(sum[:])
}
