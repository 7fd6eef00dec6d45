package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit hex identifier, optionally prefixed.
// Reply ids must be collision-resistant because they are minted client-side
// and never deduplicated by the store.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
