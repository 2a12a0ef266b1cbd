// codec.go -- little-endian 32-bit integer codec for the on-disk layout
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package cdbx

import "encoding/binary"

// every multi-byte integer in a cdb file is little-endian, per the original
// djb format.
var leOrder = binary.LittleEndian

// packU32 encodes x as 4 little-endian bytes.
func packU32(x uint32) [4]byte {
	var b [4]byte
	leOrder.PutUint32(b[:], x)
	return b
}

// unpackU32 decodes 4 little-endian bytes.
func unpackU32(b []byte) uint32 {
	return leOrder.Uint32(b[:4])
}

// fitsU32 reports whether n (an int64-range quantity, e.g. a file offset or
// a record count) still fits in the format's 32-bit fields.
func fitsU32(n uint64) bool {
	return n <= uint64(^uint32(0))
}

// checkU32 enforces the format's range boundary: any klen, vlen or
// computed offset that doesn't fit a uint32 raises Overflow.
func checkU32(n uint64) (uint32, error) {
	if !fitsU32(n) {
		return 0, ErrOverflow
	}
	return uint32(n), nil
}
