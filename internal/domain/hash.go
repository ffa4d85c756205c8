package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the lowercase hex SHA-256 of the raw bytes. It is the
// identity of a file everywhere in the pipeline: the raw-lake key, the
// manifest key, and the dedup check during ingestion.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
