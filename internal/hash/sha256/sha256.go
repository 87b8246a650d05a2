// Package sha256 digests extraction routine sources.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher keys compiled routines by the SHA-256 of their source text.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
