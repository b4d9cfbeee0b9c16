package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ComputeHash calculates SHA-256 hash of data and returns hex string
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// HashFields fingerprints a schemaless document. encoding/json sorts map
// keys, so equal field sets always produce the same hash.
func HashFields(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		// Unmarshalable values never match a previous fingerprint
		return ""
	}
	return ComputeHash(data)
}
