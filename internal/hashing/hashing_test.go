package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSum(t *testing.T) {
	a := Sum("hello world")
	b := Sum("hello world")
	c := Sum("hello world!")

	assert.Equal(t, a, b, "same text should produce same digest")
	assert.NotEqual(t, a, c, "one byte of difference must change the digest")
	assert.Len(t, a, 64)
	// well-known sha256 vector
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(""))
}

func TestSumParts(t *testing.T) {
	t.Run("boundaries matter", func(t *testing.T) {
		assert.NotEqual(t, SumParts("ab", "c"), SumParts("a", "bc"))
	})

	t.Run("order matters", func(t *testing.T) {
		assert.NotEqual(t, SumParts("a", "b"), SumParts("b", "a"))
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, SumParts("x", "y", "op"), SumParts("x", "y", "op"))
	})
}

func TestChecksum64(t *testing.T) {
	assert.Equal(t, Checksum64([]byte(`{"a":1}`)), Checksum64([]byte(`{"a":1}`)))
	assert.NotEqual(t, Checksum64([]byte(`{"a":1}`)), Checksum64([]byte(`{"a":2}`)))
	// xxhash64 of the empty input
	assert.Equal(t, uint64(0xef46db3751d8e999), Checksum64(nil))
}
