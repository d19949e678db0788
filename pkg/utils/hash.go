package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashString is the short md5 hex digest used for document IDs.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// ChunkID derives a stable chunk identifier from its source and position, so
// re-ingesting a file overwrites its chunks instead of duplicating them.
func ChunkID(source string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", HashString(source), index)
}

// CacheKey hashes arbitrary text plus a namespace (usually a model name).
func CacheKey(namespace, text string) string {
	sum := sha256.Sum256([]byte(namespace + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
