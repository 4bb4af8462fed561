package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/matzehuels/smoothdeps/pkg/source"
)

// hashKey hashes the JSON encoding of parts.
func hashKey(parts ...any) string {
	data, _ := json.Marshal(parts)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Key returns the content key of an artifact: the sha256 of
// ["<name>","<version>","<KIND>"], with name in its canonical form.
func Key(name, version string, kind source.Kind) string {
	return hashKey(kind.Normalize(name), version, kind.Ident())
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
