package media

import (
	"crypto/sha256"
	"encoding/hex"
)

// digestHex returns the SHA-256 hex digest of an artifact body.
func digestHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ETag is the strong validator served for the blob.
func (b Blob) ETag() string {
	return `"` + b.Digest + `"`
}
