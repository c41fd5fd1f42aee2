package helpers

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// HashContent returns the hex-encoded BLAKE3-256 digest of content. Diagnostics
// carry it so a verdict can be correlated with the message that produced it.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
