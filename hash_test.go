package cdbx

import "testing"

func TestCdbHashVectors(t *testing.T) {
	assert := newAsserter(t)

	assert(cdbHash(nil) == 5381, "hash(\"\") mismatch; saw %d", cdbHash(nil))
	assert(cdbHash([]byte{0}) == 177573, "hash(\"\\x00\") mismatch; saw %d", cdbHash([]byte{0}))

	h := cdbHash([]byte("hello"))
	assert(h != 0, "hash(\"hello\") should not be zero")

	// Same input must always hash the same.
	assert(cdbHash([]byte("hello")) == h, "hash not deterministic")
}

func TestTopBucketAndInitialSlot(t *testing.T) {
	assert := newAsserter(t)

	h := uint32(0x1234abcd)
	assert(topBucket(h) == 0xcd, "top bucket mismatch; saw %#x", topBucket(h))
	assert(initialSlot(h, 16) == (h>>8)%16, "initial slot mismatch")
}
