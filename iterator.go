// iterator.go -- Keys/Values/Items traversal over the records region
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
)

type iterMode int

const (
	iterModeKeys iterMode = iota
	iterModeValues
	iterModeItems
)

// errIterDone is an internal sentinel distinguishing "no more records"
// from a real I/O or corruption error; Iterator.Next never returns it.
var errIterDone = errors.New("cdbx: iterator exhausted")

// Iterator walks a Reader's records, in one of three output shapes (keys,
// values or key/value pairs) and one of two traversal modes (distinct
// keys or every record). It holds a reference to the Reader's shared
// control block, not the Reader handle itself -- this is what lets a
// Reader handle be silently garbage collected while an iterator derived
// from it is still alive, surfacing ErrDanglingReference on the
// iterator's next step instead of undefined behavior.
type Iterator struct {
	rc   *readerControl
	mode iterMode
	all  bool

	cursor uint32 // next record offset to inspect
	end    uint32 // start of the subtables region (or file length if empty)
	done   bool
}

// Keys returns an iterator over keys. all=false yields each distinct key
// once (the first time it was added); all=true yields one key per Add
// call, in file order.
func (r *Reader) Keys(all bool) (*Iterator, error) {
	return r.newIterator(iterModeKeys, all)
}

// Values returns an iterator over values, with the same all semantics as Keys.
func (r *Reader) Values(all bool) (*Iterator, error) {
	return r.newIterator(iterModeValues, all)
}

// Items returns an iterator over (key, value) pairs, with the same all
// semantics as Keys.
func (r *Reader) Items(all bool) (*Iterator, error) {
	return r.newIterator(iterModeItems, all)
}

func (r *Reader) newIterator(mode iterMode, all bool) (*Iterator, error) {
	if err := r.rc.checkLive(); err != nil {
		return nil, err
	}
	end, err := r.rc.recordsEnd()
	if err != nil {
		return nil, err
	}
	return &Iterator{rc: r.rc, mode: mode, all: all, cursor: headerSize, end: end}, nil
}

// recordsEnd is the offset where the records region stops: the lowest
// non-empty subtable offset, or the file length if every bucket is empty.
func (rc *readerControl) recordsEnd() (uint32, error) {
	end := rc.store.length()
	found := false
	for _, he := range rc.header {
		if he.nslots == 0 {
			continue
		}
		if !found || uint64(he.off) < end {
			end = uint64(he.off)
			found = true
		}
	}
	e, err := checkU32(end)
	if err != nil {
		return 0, err
	}
	return e, nil
}

// Next advances the iterator and returns the next record. key and val are
// nil for modes that don't request them (Keys leaves val nil, Values
// leaves key nil). When no record is produced, key and val are both nil
// and err explains why: nil means the iterator is simply exhausted.
func (it *Iterator) Next() (key, val []byte, err error) {
	if it.done {
		return nil, nil, nil
	}
	key, val, err = it.step()
	if err == errIterDone {
		it.done = true
		return nil, nil, nil
	}
	if err != nil {
		it.done = true
		return nil, nil, err
	}
	return key, val, nil
}

// Close releases no resources of its own (the Reader owns the backing
// store) but marks the iterator exhausted so a caller that reuses it by
// mistake gets a clean, deterministic "done" instead of silently
// resuming.
func (it *Iterator) Close() error {
	it.done = true
	return nil
}

func (it *Iterator) step() (key, val []byte, err error) {
	for {
		if err := it.rc.checkLive(); err != nil {
			return nil, nil, err
		}
		if it.cursor >= it.end {
			return nil, nil, errIterDone
		}

		recOff := it.cursor
		prefix, err := it.rc.store.readAt(recOff, recordPrefixSz)
		if err != nil {
			return nil, nil, err
		}
		klen := unpackU32(prefix[0:4])
		vlen := unpackU32(prefix[4:8])

		var k, v []byte
		if it.mode != iterModeValues {
			k, err = it.rc.store.readAt(recOff+recordPrefixSz, klen)
			if err != nil {
				return nil, nil, err
			}
		} else {
			// still need the raw key bytes to test distinct-key
			// membership below, even when the caller only wants values.
			if !it.all {
				k, err = it.rc.store.readAt(recOff+recordPrefixSz, klen)
				if err != nil {
					return nil, nil, err
				}
			}
		}
		if it.mode != iterModeKeys {
			v, err = it.rc.store.readAt(recOff+recordPrefixSz+klen, vlen)
			if err != nil {
				return nil, nil, err
			}
		}

		it.cursor += recordPrefixSz + klen + vlen

		if !it.all {
			// distinct-key traversal: emit only the first on-disk
			// occurrence of this key.
			if k == nil {
				k, err = it.rc.store.readAt(recOff+recordPrefixSz, klen)
				if err != nil {
					return nil, nil, err
				}
			}
			first, ok, ferr := it.rc.firstOffset(k)
			if ferr != nil {
				return nil, nil, ferr
			}
			if !ok || first != recOff {
				continue
			}
		}

		switch it.mode {
		case iterModeKeys:
			return k, nil, nil
		case iterModeValues:
			return nil, v, nil
		default:
			return k, v, nil
		}
	}
}

// collectAll drains it into two parallel slices, keys and values, one
// entry per record; entries the mode doesn't produce are nil (values in
// mode Keys, keys in mode Values). Primarily a test convenience;
// production callers should prefer Next() to avoid buffering the whole
// database.
func (it *Iterator) collectAll() ([][]byte, [][]byte, error) {
	var ks, vs [][]byte
	for {
		k, v, err := it.Next()
		if err != nil {
			return nil, nil, err
		}
		if k == nil && v == nil && it.done {
			break
		}
		ks = append(ks, k)
		vs = append(vs, v)
	}
	return ks, vs, nil
}
