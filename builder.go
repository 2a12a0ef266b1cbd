// builder.go -- streaming construction of a constant database
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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	atomicfile "github.com/natefinch/atomic"
)

// slotPair is one (hash, record offset) pair waiting to be placed into its
// bucket's subtable at Commit time.
type slotPair struct {
	hash uint32
	rpos uint32
}

// builderSink is the minimal capability Builder needs from its output:
// sequential writes for records and subtables, plus a seek back to the
// start to patch in the header once the final layout is known.
type builderSink interface {
	io.Writer
	io.Seeker
}

// BuilderStream is the minimal interface a caller can hand to
// NewBuilderStream in lieu of a path or descriptor.
type BuilderStream interface {
	io.Writer
	io.Seeker
	io.Closer
}

// BuilderOption configures NewBuilder/NewBuilderFd/NewBuilderStream.
type BuilderOption func(*builderConfig)

type builderConfig struct {
	ownsClose bool
	mmap      Tri
	cacheSize int
}

func defaultBuilderConfig() builderConfig {
	return builderConfig{ownsClose: false, mmap: Default, cacheSize: 128}
}

// WithBuilderClose controls whether closing (or aborting) the Builder also
// closes the caller-supplied descriptor or stream. Has no effect on
// NewBuilder, which always owns its temp file. Default false.
func WithBuilderClose(own bool) BuilderOption {
	return func(c *builderConfig) { c.ownsClose = own }
}

// WithBuilderMmap selects the backing-store policy the Reader returned by
// Commit will use; see WithMmap.
func WithBuilderMmap(t Tri) BuilderOption {
	return func(c *builderConfig) { c.mmap = t }
}

// WithBuilderCache sets the value-cache size of the Reader returned by
// Commit; see WithCache.
func WithBuilderCache(n int) BuilderOption {
	return func(c *builderConfig) { c.cacheSize = n }
}

// Builder accumulates key/value pairs and, on Commit, writes the subtables
// and header that turn them into a queryable constant database. A Builder
// is single-use: once Commit or Close has run, it is done.
type Builder struct {
	mu sync.Mutex

	sink builderSink
	name string

	tmpPath   string // set only in path mode; Commit copies this into finalPath, then removes it
	finalPath string
	ownsClose bool // whether aborting/closing an fd/stream-mode Builder also closes it
	mmap      Tri
	cacheSize int

	current uint32
	buckets [headerSlots][]slotPair

	closed    bool
	committed bool
}

// NewBuilder creates fn (via an adjacent temp file) for building. Commit
// publishes the result to fn with an atomic rename; Close without Commit
// discards the temp file and leaves fn untouched.
func NewBuilder(fn string, opts ...BuilderOption) (*Builder, error) {
	dir := filepath.Dir(fn)
	tmp, err := os.CreateTemp(dir, ".cdbx-"+filepath.Base(fn)+"-*.tmp")
	if err != nil {
		return nil, wrapIO(fn, "create_temp", err)
	}
	if _, err := tmp.Seek(headerSize, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, wrapIO(tmp.Name(), "seek", err)
	}

	cfg := defaultBuilderConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Builder{
		sink:      tmp,
		name:      tmp.Name(),
		tmpPath:   tmp.Name(),
		finalPath: fn,
		mmap:      cfg.mmap,
		cacheSize: cfg.cacheSize,
		current:   headerSize,
	}, nil
}

// NewBuilderFd adapts an already-open, writable file descriptor for
// building. By default (WithBuilderClose(false)) the descriptor outlives
// the Builder and the Reader Commit returns.
func NewBuilderFd(fd int, opts ...BuilderOption) (*Builder, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("fd:%d", fd))
	if f == nil {
		return nil, ErrInvalidArgument
	}
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		return nil, wrapIO(f.Name(), "seek", err)
	}

	cfg := defaultBuilderConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Builder{
		sink:      f,
		name:      f.Name(),
		ownsClose: cfg.ownsClose,
		mmap:      cfg.mmap,
		cacheSize: cfg.cacheSize,
		current:   headerSize,
	}, nil
}

// NewBuilderStream adapts a caller-supplied writable, seekable stream for
// building. Commit can only hand back a Reader over ws if ws also
// implements Stream (io.ReaderAt); otherwise the caller must reopen it for
// reading themselves.
func NewBuilderStream(ws BuilderStream, opts ...BuilderOption) (*Builder, error) {
	if _, err := ws.Seek(headerSize, io.SeekStart); err != nil {
		return nil, wrapIO("<stream>", "seek", err)
	}

	cfg := defaultBuilderConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Builder{
		sink:      ws,
		name:      "<stream>",
		ownsClose: cfg.ownsClose,
		mmap:      cfg.mmap,
		cacheSize: cfg.cacheSize,
		current:   headerSize,
	}, nil
}

// Fileno returns the OS file descriptor number backing this builder, or
// ErrNotSupported for stream backings.
func (b *Builder) Fileno() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.committed {
		return 0, ErrClosed
	}
	f, ok := b.sink.(*os.File)
	if !ok {
		return 0, ErrNotSupported
	}
	return int(f.Fd()), nil
}

// Add appends one key/value record. Multiple Adds of the same key are all
// retained; Reader.Find(key, true) returns them in the order they were
// added.
func (b *Builder) Add(key, val []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.committed {
		return ErrClosed
	}

	klen, err := checkU32(uint64(len(key)))
	if err != nil {
		return err
	}
	vlen, err := checkU32(uint64(len(val)))
	if err != nil {
		return err
	}

	recSize := uint64(recordPrefixSz) + uint64(klen) + uint64(vlen)
	newOffset := uint64(b.current) + recSize
	if !fitsU32(newOffset) {
		return ErrOverflow
	}

	kb := packU32(klen)
	vb := packU32(vlen)
	for _, chunk := range [][]byte{kb[:], vb[:], key, val} {
		if len(chunk) == 0 {
			continue
		}
		n, err := b.sink.Write(chunk)
		if err != nil {
			return wrapIO(b.name, "write", err)
		}
		if n != len(chunk) {
			return errShortWrite(b.name, n, len(chunk))
		}
	}

	h := cdbHash(key)
	bucket := topBucket(h)
	b.buckets[bucket] = append(b.buckets[bucket], slotPair{hash: h, rpos: b.current})
	b.current = uint32(newOffset)
	return nil
}

// Commit writes the 256 subtables and the header, publishes the result
// (renaming into place for path-mode Builders) and returns a Reader opened
// over it. The Builder is consumed: a second Commit or any further Add
// fails with ErrClosed.
func (b *Builder) Commit() (*Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.committed {
		return nil, ErrClosed
	}

	var hdr [headerSlots]headerEntry
	for i := 0; i < headerSlots; i++ {
		pairs := b.buckets[i]
		if len(pairs) == 0 {
			hdr[i] = headerEntry{off: b.current, nslots: 0}
			continue
		}

		nslots := uint32(2 * len(pairs))
		table := make([]slotPair, nslots)
		for _, p := range pairs {
			slot := initialSlot(p.hash, nslots)
			start := slot
			for table[slot].rpos != 0 {
				slot = (slot + 1) % nslots
				if slot == start {
					return nil, fmt.Errorf("cdbx: bucket %d overflowed while placing its subtable", i)
				}
			}
			table[slot] = p
		}

		off := b.current
		buf := make([]byte, int(nslots)*slotSz)
		for j, p := range table {
			hb := packU32(p.hash)
			rb := packU32(p.rpos)
			copy(buf[j*slotSz:], hb[:])
			copy(buf[j*slotSz+4:], rb[:])
		}
		n, err := b.sink.Write(buf)
		if err != nil {
			return nil, wrapIO(b.name, "write", err)
		}
		if n != len(buf) {
			return nil, errShortWrite(b.name, n, len(buf))
		}

		newOff := uint64(off) + uint64(len(buf))
		if !fitsU32(newOff) {
			return nil, ErrOverflow
		}
		b.current = uint32(newOff)
		hdr[i] = headerEntry{off: off, nslots: nslots}
	}

	var hdrBuf [headerSize]byte
	for i, he := range hdr {
		ob := packU32(he.off)
		nb := packU32(he.nslots)
		copy(hdrBuf[i*headerEntrySz:], ob[:])
		copy(hdrBuf[i*headerEntrySz+4:], nb[:])
	}
	if _, err := b.sink.Seek(0, io.SeekStart); err != nil {
		return nil, wrapIO(b.name, "seek", err)
	}
	if n, err := b.sink.Write(hdrBuf[:]); err != nil {
		return nil, wrapIO(b.name, "write", err)
	} else if n != len(hdrBuf) {
		return nil, errShortWrite(b.name, n, len(hdrBuf))
	}

	size := uint64(b.current)
	b.committed = true

	rcfg := readerConfig{mmap: b.mmap, cacheSize: b.cacheSize}

	if b.tmpPath != "" {
		f := b.sink.(*os.File)
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, wrapIO(b.name, "sync", err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, wrapIO(b.name, "seek", err)
		}
		// atomic.WriteFile stages finalPath's new content through its own
		// temp file and renames over the target, so a reader opening
		// finalPath concurrently with Commit never observes a partial
		// write.
		werr := atomicfile.WriteFile(b.finalPath, f)
		f.Close()
		os.Remove(b.tmpPath)
		if werr != nil {
			return nil, wrapIO(b.finalPath, "write_file", werr)
		}
		rcfg.ownsClose = true
		fd, err := os.Open(b.finalPath)
		if err != nil {
			return nil, wrapIO(b.finalPath, "open", err)
		}
		return newReaderFromFile(fd, rcfg)
	}

	rcfg.ownsClose = b.ownsClose
	if f, ok := b.sink.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return nil, wrapIO(b.name, "sync", err)
		}
		return newReaderFromFile(f, rcfg)
	}

	if rs, ok := b.sink.(Stream); ok {
		store := newStreamStore(rs, size, b.ownsClose)
		return newReaderFromStore(store, size, b.name, rcfg)
	}
	return nil, fmt.Errorf("cdbx: stream does not support io.ReaderAt, cannot reopen for reading: %w", ErrNotSupported)
}

// Close discards an uncommitted Builder: a path-mode temp file is removed
// and never touches the target path; an fd/stream-mode Builder closes the
// caller's descriptor only if WithBuilderClose(true) was given. Calling
// Close after a successful Commit is a harmless no-op -- the Reader
// Commit returned owns cleanup from that point on. Idempotent.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.committed {
		return nil
	}

	if b.tmpPath != "" {
		var err error
		if f, ok := b.sink.(*os.File); ok {
			err = f.Close()
		}
		if rerr := os.Remove(b.tmpPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
		return err
	}

	if b.ownsClose {
		if c, ok := b.sink.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}
