// errors.go -- error kinds for the constant database
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package cdbx

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when no record exists for a key and the
	// caller demanded one (Reader.MustFind).
	ErrKeyNotFound = errors.New("cdbx: no such key")

	// ErrClosed is returned when an operation is attempted on a reader or
	// builder that has already been closed.
	ErrClosed = errors.New("cdbx: already closed")

	// ErrCorruptHeader is returned when the 2048-byte header table is
	// internally inconsistent with the file length.
	ErrCorruptHeader = errors.New("cdbx: corrupt header")

	// ErrTruncated is returned when a read returned fewer bytes than
	// demanded by the on-disk layout.
	ErrTruncated = errors.New("cdbx: truncated read")

	// ErrOverflow is returned when a computed offset or length would not
	// fit in the file format's 32-bit fields.
	ErrOverflow = errors.New("cdbx: offset or length overflows 32 bits")

	// ErrInvalidKey is returned when a key or value cannot be represented
	// as a byte string (e.g. a string that doesn't encode to latin-1).
	ErrInvalidKey = errors.New("cdbx: key or value is not a valid byte string")

	// ErrInvalidArgument is returned for unusable constructor arguments,
	// e.g. an invalid file descriptor or a stream whose size cannot be
	// determined.
	ErrInvalidArgument = errors.New("cdbx: invalid argument")

	// ErrDanglingReference is returned when an Iterator is used after its
	// parent Reader has been garbage collected without an explicit Close.
	ErrDanglingReference = errors.New("cdbx: dangling reference to closed reader")

	// ErrNotSupported is returned for operations the current backing
	// store cannot perform, e.g. Fileno() on a stream backing.
	ErrNotSupported = errors.New("cdbx: not supported by this backing store")
)

func errShortWrite(fn string, n, want int) error {
	return fmt.Errorf("cdbx: %s: incomplete write; exp %d, saw %d", fn, want, n)
}

// wrapIO tags an underlying I/O failure with the operation and file that
// produced it, per spec's IoError kind. The wrapped error is always
// unwrappable via errors.Is/errors.As.
func wrapIO(fn, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cdbx: %s: %s: %w", fn, op, err)
}
