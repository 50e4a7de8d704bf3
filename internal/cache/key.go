package cache

import (
	"github.com/raaihank/scrubcache/internal/hashing"
	"github.com/raaihank/scrubcache/internal/privacy"
)

// Key identifies a cache slot. It is derived from two scrubbed fingerprints
// and an operation name, so raw text can never become part of a key.
type Key struct {
	hex string
}

// NewKey derives the key for (a, b, op). Argument order matters.
func NewKey(a, b privacy.Fingerprint, op string) Key {
	return Key{hex: hashing.SumParts(a.String(), b.String(), op)}
}

func (k Key) String() string {
	return k.hex
}

// Short returns the first 16 hex characters, for logs.
func (k Key) Short() string {
	if len(k.hex) < 16 {
		return k.hex
	}
	return k.hex[:16]
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.hex), nil
}
