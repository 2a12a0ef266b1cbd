// hash.go -- the CDB hash function (Bernstein's djb hash variant)
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package cdbx

// cdbHash computes djb's constant-database hash over b. It must remain
// bit-exact forever: every cdb file ever written with this hash depends on
// it never changing.
//
//	h := 5381
//	for each byte x in b: h := ((h<<5)+h) XOR x  (mod 2^32)
func cdbHash(b []byte) uint32 {
	var h uint32 = 5381
	for _, x := range b {
		h = ((h << 5) + h) ^ uint32(x)
	}
	return h
}

// topBucket returns the top-level bucket (0..255) selected by hash h.
func topBucket(h uint32) uint32 {
	return h & 0xff
}

// initialSlot returns the first slot to probe within a subtable of n slots.
func initialSlot(h uint32, n uint32) uint32 {
	return (h >> 8) % n
}
