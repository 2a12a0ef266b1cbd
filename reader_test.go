package cdbx

import (
	"os"
	"runtime"
	"testing"
	"time"
)

func TestReaderFindAfterClose(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, [][2]string{{"k", "v"}})
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)

	assert(rd.Close() == nil, "first Close should succeed")
	assert(rd.Close() == nil, "second Close should be a no-op")

	_, _, err = rd.Find([]byte("k"), false)
	assert(err == ErrClosed, "expected ErrClosed after Close, saw %v", err)
}

func TestReaderDanglingReference(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, [][2]string{{"k", "v"}})
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)

	it, err := rd.Items(true)
	assert(err == nil, "Items: %v", err)

	// Drop the Reader handle without calling Close; only the Iterator
	// (which holds the shared control block directly) keeps it alive.
	rd = nil

	deadline := time.Now().Add(5 * time.Second)
	for {
		runtime.GC()
		if ferr := it.rc.checkLive(); ferr == ErrDanglingReference {
			err = ferr
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("finalizer did not run within the deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert(err == ErrDanglingReference, "expected ErrDanglingReference, saw %v", err)

	_, _, ferr := it.Next()
	assert(ferr == ErrDanglingReference, "Next should surface ErrDanglingReference, saw %v", ferr)
}

func TestReaderStat(t *testing.T) {
	assert := newAsserter(t)

	pairs := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	fn := buildTempDB(t, pairs)
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)
	defer rd.Close()

	st, err := rd.Stat()
	assert(err == nil, "Stat: %v", err)
	assert(st.NonEmpty == 3, "expected 3 non-empty buckets, saw %d", st.NonEmpty)
	assert(st.MaxLoad <= 0.5, "max load should never exceed 1/2, saw %f", st.MaxLoad)
}

func TestReaderFdMode(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, [][2]string{{"only", "value"}})
	f, err := os.Open(fn)
	assert(err == nil, "open: %v", err)

	rd, err := OpenReaderFd(int(f.Fd()), WithClose(true))
	assert(err == nil, "OpenReaderFd: %v", err)

	v, err := rd.MustFind([]byte("only"))
	assert(err == nil, "MustFind: %v", err)
	assert(string(v) == "value", "value mismatch; saw %q", v)

	assert(rd.Close() == nil, "Close: unexpected error")
}

func TestReaderContainsAndMustFind(t *testing.T) {
	assert := newAsserter(t)

	fn := buildTempDB(t, [][2]string{{"present", "yes"}})
	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)
	defer rd.Close()

	ok, err := rd.Contains([]byte("present"))
	assert(err == nil, "Contains: %v", err)
	assert(ok, "expected 'present' to be found")

	ok, err = rd.Contains([]byte("absent"))
	assert(err == nil, "Contains: %v", err)
	assert(!ok, "expected 'absent' to be missing")

	_, err = rd.MustFind([]byte("absent"))
	assert(err == ErrKeyNotFound, "expected ErrKeyNotFound, saw %v", err)
}
