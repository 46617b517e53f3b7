package battle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize returns the canonical form of a map: no carriage returns, no
// trailing spaces, no leading or trailing blank lines, rows joined by '\n'.
func Normalize(text string) string {
	return strings.Join(mapLines(text), "\n")
}

// Digest returns the hex SHA-256 of the normalized map. Battles are
// deterministic, so maps with equal digests have equal results.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
