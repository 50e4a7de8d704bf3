// Package hashing provides the stable one-way digests used for content
// fingerprints and cache keys, plus a fast non-cryptographic checksum the
// cache uses to recognise identical payload rewrites.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// separator keeps multi-part digests unambiguous ("ab"+"c" vs "a"+"bc").
const separator = 0x1f

// Sum returns the lowercase hex sha256 digest of text.
func Sum(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// SumParts digests an ordered list of parts. Part boundaries are significant.
func SumParts(parts ...string) string {
	hasher := sha256.New()
	for i, p := range parts {
		if i > 0 {
			hasher.Write([]byte{separator})
		}
		hasher.Write([]byte(p))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Checksum64 is a fast xxhash64 checksum. It is not one-way and must never be
// computed over unredacted text.
func Checksum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}
