// reader.go -- query interface for a previously constructed constant database
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
	"bytes"
	"fmt"
	"os"
	"runtime"
	"sync"

	lru "github.com/opencoff/golang-lru"
)

const (
	headerSlots    = 256
	headerEntrySz  = 8 // offset u32le + nslots u32le
	headerSize     = headerSlots * headerEntrySz
	recordPrefixSz = 8 // klen u32le + vlen u32le
	slotSz         = 8 // hash u32le + rpos u32le
)

type headerEntry struct {
	off    uint32
	nslots uint32
}

// ReaderOption configures OpenReader. Use the With* constructors below.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	ownsClose bool
	mmap      Tri
	cacheSize int
}

// WithClose controls whether Reader.Close() also closes the underlying
// file descriptor or stream. Default is false: the caller retains
// ownership and Close only releases cdbx's own resources (e.g. an mmap).
func WithClose(own bool) ReaderOption {
	return func(c *readerConfig) { c.ownsClose = own }
}

// WithMmap selects the backing-store policy: Enabled requires mmap
// (propagating failure), Disabled never mmaps, Default (the zero value)
// tries mmap and silently falls back.
func WithMmap(t Tri) ReaderOption {
	return func(c *readerConfig) { c.mmap = t }
}

// WithCache sets how many decoded values the Reader opportunistically
// keeps in an in-memory ARC cache, keyed by record offset. This never
// changes a byte of the on-disk format; it only speeds up repeat lookups.
// n <= 0 selects the default of 128, matching this cache's long-standing
// default in the wider pack.
func WithCache(n int) ReaderOption {
	return func(c *readerConfig) { c.cacheSize = n }
}

// readerControl is the shared, heap-allocated state behind a Reader. It
// outlives the thin *Reader handle whenever an Iterator still references
// it, which is how cdbx tells "explicitly closed" apart from "the handle
// was dropped and collected without Close" (see checkLive below).
type readerControl struct {
	mu     sync.Mutex
	store  backingStore
	header [headerSlots]headerEntry
	cache  *lru.ARCCache
	name   string

	closed     bool
	closedByGC bool

	distinctOnce sync.Once
	distinctLen  int
}

// Reader represents the query interface for a previously constructed
// constant database (built using NewBuilder()/Builder.Commit()). It
// answers key lookups and produces Keys/Values/Items iterators.
type Reader struct {
	rc *readerControl
}

// OpenReader opens a cdb file at path fn for querying. Reader.Close()
// always closes the descriptor it opened; WithClose has no effect here
// (it only matters for OpenReaderFd/OpenReaderStream, where the caller
// supplied the descriptor or stream themselves).
func OpenReader(fn string, opts ...ReaderOption) (*Reader, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	cfg := defaultReaderConfig()
	for _, o := range opts {
		o(&cfg)
	}
	cfg.ownsClose = true // we opened fn ourselves; always close it on Reader.Close()
	return newReaderFromFile(fd, cfg)
}

// OpenReaderFd adapts an already-open file descriptor for querying. By
// default (WithClose(false), the zero value) closing the Reader leaves
// the descriptor open; pass WithClose(true) to have Reader.Close() also
// close it.
func OpenReaderFd(fd int, opts ...ReaderOption) (*Reader, error) {
	cfg := defaultReaderConfig()
	for _, o := range opts {
		o(&cfg)
	}
	f := os.NewFile(uintptr(fd), fmt.Sprintf("fd:%d", fd))
	if f == nil {
		return nil, ErrInvalidArgument
	}
	return newReaderFromFile(f, cfg)
}

// OpenReaderStream adapts a user-supplied seekable stream for querying.
// Stream mode never uses mmap.
func OpenReaderStream(rs Stream, opts ...ReaderOption) (*Reader, error) {
	cfg := defaultReaderConfig()
	for _, o := range opts {
		o(&cfg)
	}

	sz, err := streamSize(rs)
	if err != nil {
		return nil, err
	}

	store := newStreamStore(rs, sz, cfg.ownsClose)
	return newReaderFromStore(store, sz, "<stream>", cfg)
}

func defaultReaderConfig() readerConfig {
	return readerConfig{ownsClose: false, mmap: Default, cacheSize: 128}
}

func streamSize(rs Stream) (uint64, error) {
	type sizer interface {
		Size() (int64, error)
	}
	if s, ok := rs.(sizer); ok {
		n, err := s.Size()
		if err != nil {
			return 0, err
		}
		return uint64(n), nil
	}
	type statter interface {
		Stat() (os.FileInfo, error)
	}
	if s, ok := rs.(statter); ok {
		fi, err := s.Stat()
		if err != nil {
			return 0, err
		}
		return uint64(fi.Size()), nil
	}
	return 0, fmt.Errorf("cdbx: stream does not support Size()/Stat(): %w", ErrInvalidArgument)
}

func newReaderFromFile(fd *os.File, cfg readerConfig) (*Reader, error) {
	st, err := fd.Stat()
	if err != nil {
		return nil, wrapIO(fd.Name(), "stat", err)
	}
	size := uint64(st.Size())

	if size < headerSize {
		return nil, ErrCorruptHeader
	}

	store, err := openBackingStore(fd, size, cfg.ownsClose, cfg.mmap)
	if err != nil {
		return nil, err
	}
	return newReaderFromStore(store, size, fd.Name(), cfg)
}

func newReaderFromStore(store backingStore, size uint64, name string, cfg readerConfig) (*Reader, error) {
	hdrBytes, err := store.readAt(0, headerSize)
	if err != nil {
		store.close()
		return nil, err
	}

	var hdr [headerSlots]headerEntry
	for i := 0; i < headerSlots; i++ {
		b := hdrBytes[i*headerEntrySz : (i+1)*headerEntrySz]
		off := unpackU32(b[0:4])
		n := unpackU32(b[4:8])
		if n > 0 {
			if uint64(off) < headerSize || uint64(off)+uint64(n)*slotSz > size {
				store.close()
				return nil, ErrCorruptHeader
			}
		}
		hdr[i] = headerEntry{off: off, nslots: n}
	}

	cacheSize := cfg.cacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		store.close()
		return nil, err
	}

	rc := &readerControl{
		store:  store,
		header: hdr,
		cache:  cache,
		name:   name,
	}
	r := &Reader{rc: rc}
	runtime.SetFinalizer(r, (*Reader).finalize)
	return r, nil
}

// finalize runs when a Reader handle is garbage collected without an
// explicit Close(). It distinguishes "reader destroyed while an iterator
// is still live" from an ordinary, deliberate Close().
func (r *Reader) finalize() {
	r.rc.closeFrom(false)
}

// Close releases the backing store (honoring the ownership option passed
// at construction) and marks the reader closed. Idempotent. Live
// iterators observe the closure on their next step.
func (r *Reader) Close() error {
	runtime.SetFinalizer(r, nil)
	return r.rc.closeFrom(true)
}

func (rc *readerControl) closeFrom(explicit bool) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return nil
	}
	rc.closed = true
	rc.closedByGC = !explicit
	rc.cache.Purge()
	return rc.store.close()
}

// checkLive reports whether rc is still usable, translating its state
// into the specific error an Iterator or Reader operation should surface.
func (rc *readerControl) checkLive() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		return nil
	}
	if rc.closedByGC {
		return ErrDanglingReference
	}
	return ErrClosed
}

// Len returns the number of distinct keys in the DB. It is computed once,
// on first demand, by walking the records region with the distinct-key
// iterator and counting the records that are the first occurrence on
// disk of their key.
func (r *Reader) Len() (int, error) {
	if err := r.rc.checkLive(); err != nil {
		return 0, err
	}
	var outerErr error
	r.rc.distinctOnce.Do(func() {
		n, err := r.countDistinct()
		if err != nil {
			outerErr = err
			return
		}
		r.rc.distinctLen = n
	})
	if outerErr != nil {
		return 0, outerErr
	}
	return r.rc.distinctLen, nil
}

func (r *Reader) countDistinct() (int, error) {
	n := 0
	it, err := r.newIterator(iterModeKeys, false)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	for {
		_, _, err := it.step()
		if err == errIterDone {
			break
		}
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Fileno returns the OS file descriptor number backing this reader, or
// ErrNotSupported for stream backings.
func (r *Reader) Fileno() (int, error) {
	if err := r.rc.checkLive(); err != nil {
		return 0, err
	}
	return r.rc.store.fileno()
}

// Stat summarizes the on-disk layout: total size and per-bucket load
// factor. A read-only diagnostic, useful for sanity-checking a build.
type Stat struct {
	Size       uint64
	NonEmpty   int     // number of the 256 top buckets with at least one slot
	MaxLoad    float64 // highest occupancy ratio (records / nslots) seen among buckets
	TotalSlots int
}

// Stat returns summary statistics about the underlying file.
func (r *Reader) Stat() (Stat, error) {
	if err := r.rc.checkLive(); err != nil {
		return Stat{}, err
	}
	var s Stat
	s.Size = r.rc.store.length()
	for i := range r.rc.header {
		n := r.rc.header[i].nslots
		if n == 0 {
			continue
		}
		s.NonEmpty++
		s.TotalSlots += int(n)
		occupied, err := r.countOccupied(i)
		if err != nil {
			return Stat{}, err
		}
		load := float64(occupied) / float64(n)
		if load > s.MaxLoad {
			s.MaxLoad = load
		}
	}
	return s, nil
}

func (r *Reader) countOccupied(bucket int) (int, error) {
	h := r.rc.header[bucket]
	n := 0
	for i := uint32(0); i < h.nslots; i++ {
		b, err := r.rc.store.readAt(h.off+i*slotSz, slotSz)
		if err != nil {
			return 0, err
		}
		if unpackU32(b[4:8]) != 0 {
			n++
		}
	}
	return n, nil
}

// Find looks up key and returns its value(s).
//
//   - all == false: returns the first value added for key (as a
//     one-element slice), or (nil, false) if key is absent. Get covers
//     the default-value case.
//   - all == true: returns every value added for key in addition order, or
//     (nil, false) if key is absent.
func (r *Reader) Find(key []byte, all bool) ([][]byte, bool, error) {
	if err := r.rc.checkLive(); err != nil {
		return nil, false, err
	}
	return r.rc.find(key, all)
}

// find is the core cdb probe sequence (see http://cr.yp.to/cdb.html):
// select the top bucket from the low byte of the hash, probe the subtable
// linearly (wrapping) starting at (h>>8)%n, and stop at the first empty
// slot (rpos==0).
func (rc *readerControl) find(key []byte, all bool) ([][]byte, bool, error) {
	h := cdbHash(key)
	bucket := topBucket(h)
	he := rc.header[bucket]
	if he.nslots == 0 {
		return nil, false, nil
	}

	slot := initialSlot(h, he.nslots)
	start := slot
	var results [][]byte

	for {
		sb, err := rc.store.readAt(he.off+slot*slotSz, slotSz)
		if err != nil {
			return nil, false, err
		}
		hslot := unpackU32(sb[0:4])
		rpos := unpackU32(sb[4:8])
		if rpos == 0 {
			break
		}
		if hslot == h {
			val, ok, err := rc.readRecordIfKeyMatches(rpos, key)
			if err != nil {
				return nil, false, err
			}
			if ok {
				if !all {
					return [][]byte{val}, true, nil
				}
				results = append(results, val)
			}
		}
		slot = (slot + 1) % he.nslots
		if slot == start {
			break // subtable full: treat as not found past this point
		}
	}

	if len(results) == 0 {
		return nil, false, nil
	}
	return results, true, nil
}

// firstOffset returns the record offset of the first-added occurrence of
// key, i.e. the same record Find(key, false) would read. Used by the
// distinct-key iterator's lookup-by-first-offset strategy to tell whether
// the record it is currently looking at is that first occurrence without
// keeping a seen-set of every key visited so far.
func (rc *readerControl) firstOffset(key []byte) (uint32, bool, error) {
	h := cdbHash(key)
	bucket := topBucket(h)
	he := rc.header[bucket]
	if he.nslots == 0 {
		return 0, false, nil
	}

	slot := initialSlot(h, he.nslots)
	start := slot
	for {
		sb, err := rc.store.readAt(he.off+slot*slotSz, slotSz)
		if err != nil {
			return 0, false, err
		}
		hslot := unpackU32(sb[0:4])
		rpos := unpackU32(sb[4:8])
		if rpos == 0 {
			return 0, false, nil
		}
		if hslot == h {
			_, ok, err := rc.readRecordIfKeyMatches(rpos, key)
			if err != nil {
				return 0, false, err
			}
			if ok {
				return rpos, true, nil
			}
		}
		slot = (slot + 1) % he.nslots
		if slot == start {
			return 0, false, nil
		}
	}
}

// readRecordIfKeyMatches reads the record at rpos and returns its value
// only if the stored key equals key. The value is cached by offset so
// repeat lookups of a hot key skip the disk entirely.
func (rc *readerControl) readRecordIfKeyMatches(rpos uint32, key []byte) ([]byte, bool, error) {
	if v, ok := rc.cache.Get(rpos); ok {
		cached := v.(cachedRecord)
		if bytes.Equal(cached.key, key) {
			return cached.val, true, nil
		}
		return nil, false, nil
	}

	prefix, err := rc.store.readAt(rpos, recordPrefixSz)
	if err != nil {
		return nil, false, err
	}
	klen := unpackU32(prefix[0:4])
	vlen := unpackU32(prefix[4:8])

	end := uint64(rpos) + recordPrefixSz + uint64(klen) + uint64(vlen)
	if end > rc.store.length() {
		return nil, false, ErrCorruptHeader
	}

	kbuf, err := rc.store.readAt(rpos+recordPrefixSz, klen)
	if err != nil {
		return nil, false, err
	}

	if !bytes.Equal(kbuf, key) {
		return nil, false, nil
	}

	vbuf, err := rc.store.readAt(rpos+recordPrefixSz+klen, vlen)
	if err != nil {
		return nil, false, err
	}

	rc.cache.Add(rpos, cachedRecord{key: kbuf, val: vbuf})
	return vbuf, true, nil
}

type cachedRecord struct {
	key []byte
	val []byte
}

// Get is a convenience wrapper over Find for the common single-value
// case, returning defaultValue when the key is absent.
func (r *Reader) Get(key []byte, defaultValue []byte) ([]byte, error) {
	vals, ok, err := r.Find(key, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return defaultValue, nil
	}
	return vals[0], nil
}

// MustFind returns the first value for key, or ErrKeyNotFound if absent.
func (r *Reader) MustFind(key []byte) ([]byte, error) {
	vals, ok, err := r.Find(key, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrKeyNotFound
	}
	return vals[0], nil
}

// Contains reports whether key has at least one value, stopping probing
// at the first match.
func (r *Reader) Contains(key []byte) (bool, error) {
	if err := r.rc.checkLive(); err != nil {
		return false, err
	}
	_, ok, err := r.rc.find(key, false)
	return ok, err
}
