// backingstore.go -- uniform byte-range read over fd, mmap or a user stream
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
	"io"
	"os"
	"sync"
	"syscall"
)

// Tri is a three-valued option, used so callers can't accidentally default
// a knob by passing the zero value of a bool.
type Tri int

const (
	// Default lets cdbx pick the best available behavior.
	Default Tri = iota
	// Enabled forces the behavior on, failing if it can't be honored.
	Enabled
	// Disabled forces the behavior off.
	Disabled
)

// backingStore is the uniform byte-range read interface every Reader and
// Builder is built on. Exactly one of Fd/Mmap/Stream mode is active.
type backingStore interface {
	readAt(off, n uint32) ([]byte, error)
	length() uint64
	close() error
	// fileno returns the underlying OS descriptor number, or
	// ErrNotSupported if this backing has none (e.g. a user stream).
	fileno() (int, error)
}

// fdStore reads via the OS's positional pread(2), never mutating the
// visible file position.
type fdStore struct {
	fd        *os.File
	size      uint64
	ownsClose bool
	name      string
}

func newFdStore(fd *os.File, size uint64, ownsClose bool) *fdStore {
	return &fdStore{fd: fd, size: size, ownsClose: ownsClose, name: fd.Name()}
}

func (s *fdStore) readAt(off, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	nr, err := s.fd.ReadAt(buf, int64(off))
	if err != nil && err != io.EOF {
		return nil, wrapIO(s.name, "read_at", err)
	}
	if nr != int(n) {
		return nil, ErrTruncated
	}
	return buf, nil
}

func (s *fdStore) length() uint64 { return s.size }

func (s *fdStore) close() error {
	if !s.ownsClose {
		return nil
	}
	return s.fd.Close()
}

func (s *fdStore) fileno() (int, error) {
	return int(s.fd.Fd()), nil
}

// mmapStore serves reads from a single read-only mapping of the whole
// file; reads are copied out of the mapping as owned byte slices so the
// mapping can be safely unmapped on Close without invalidating results
// already handed to callers.
type mmapStore struct {
	fd        *os.File
	data      []byte
	ownsClose bool
	name      string
}

func newMmapStore(fd *os.File, size uint64, ownsClose bool) (*mmapStore, error) {
	if size == 0 {
		// syscall.Mmap rejects a zero-length mapping; an empty cdb (just
		// the 2048-byte header) never hits this, but guard anyway.
		return nil, wrapIO(fd.Name(), "mmap", syscall.EINVAL)
	}
	data, err := syscall.Mmap(int(fd.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, wrapIO(fd.Name(), "mmap", err)
	}
	return &mmapStore{fd: fd, data: data, ownsClose: ownsClose, name: fd.Name()}, nil
}

func (s *mmapStore) readAt(off, n uint32) ([]byte, error) {
	end := uint64(off) + uint64(n)
	if end > uint64(len(s.data)) {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, s.data[off:end])
	return out, nil
}

func (s *mmapStore) length() uint64 { return uint64(len(s.data)) }

func (s *mmapStore) close() error {
	err := syscall.Munmap(s.data)
	s.data = nil
	if s.ownsClose {
		if cerr := s.fd.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *mmapStore) fileno() (int, error) {
	return int(s.fd.Fd()), nil
}

// Stream is the minimal seekable-byte-stream interface a caller can hand
// to OpenReader/OpenBuilder in lieu of a path or descriptor. Streams are
// single-threaded: concurrent reads from independent iterators over the
// same Stream are serialized with an internal mutex.
type Stream interface {
	io.ReaderAt
	io.Closer
}

// streamStore wraps a user-supplied Stream. Since we only need positional
// reads (io.ReaderAt), no seek/serialize dance is required as long as the
// stream implementation itself is safe for concurrent ReadAt -- we
// additionally serialize with a mutex so implementations that are not are
// still safe to use from multiple iterators.
type streamStore struct {
	mu        sync.Mutex
	rs        Stream
	size      uint64
	ownsClose bool
}

func newStreamStore(rs Stream, size uint64, ownsClose bool) *streamStore {
	return &streamStore{rs: rs, size: size, ownsClose: ownsClose}
}

func (s *streamStore) readAt(off, n uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, n)
	nr, err := s.rs.ReadAt(buf, int64(off))
	if err != nil && err != io.EOF {
		return nil, wrapIO("<stream>", "read_at", err)
	}
	if nr != int(n) {
		return nil, ErrTruncated
	}
	return buf, nil
}

func (s *streamStore) length() uint64 { return s.size }

func (s *streamStore) close() error {
	if !s.ownsClose {
		return nil
	}
	return s.rs.Close()
}

func (s *streamStore) fileno() (int, error) {
	return 0, ErrNotSupported
}

// openBackingStore implements the mmap selection policy: Enabled requires
// mmap (propagating any failure), Disabled never mmaps, and Default tries
// mmap and falls back silently to fdStore.
func openBackingStore(fd *os.File, size uint64, ownsClose bool, mmap Tri) (backingStore, error) {
	switch mmap {
	case Enabled:
		return newMmapStore(fd, size, ownsClose)

	case Disabled:
		return newFdStore(fd, size, ownsClose), nil

	default:
		if m, err := newMmapStore(fd, size, ownsClose); err == nil {
			return m, nil
		}
		return newFdStore(fd, size, ownsClose), nil
	}
}
