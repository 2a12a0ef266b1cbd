package cdbx

import (
	"bytes"
	"testing"
)

func TestTextWriterReaderRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	var buf bytes.Buffer
	tw := NewTextWriter(&buf)
	records := [][2]string{
		{"one", "1"},
		{"", "empty-key"},
		{"bin\x00ary", "val\nwith\nnewlines"},
	}
	for _, r := range records {
		assert(tw.WriteRecord([]byte(r[0]), []byte(r[1])) == nil, "WriteRecord failed")
	}
	assert(tw.Close() == nil, "Close failed")

	tr := NewTextReader(&buf)
	for i, want := range records {
		k, v, err := tr.Next()
		assert(err == nil, "Next(%d): %v", i, err)
		assert(string(k) == want[0], "key %d mismatch; want %q, saw %q", i, want[0], k)
		assert(string(v) == want[1], "value %d mismatch; want %q, saw %q", i, want[1], v)
	}
	_, _, err := tr.Next()
	assert(err != nil, "expected EOF/terminator after last record")
}

func TestTextReaderRejectsGarbage(t *testing.T) {
	assert := newAsserter(t)

	tr := NewTextReader(bytes.NewBufferString("not a valid record\n"))
	_, _, err := tr.Next()
	assert(err == ErrCorruptText, "expected ErrCorruptText, saw %v", err)
}

func TestDumpTextAndAddTextStreamRoundTrip(t *testing.T) {
	assert := newAsserter(t)

	pairs := [][2]string{{"k1", "v1"}, {"k2", "v2"}, {"k1", "v1b"}}
	fn := buildTempDB(t, pairs)

	rd, err := OpenReader(fn)
	assert(err == nil, "OpenReader: %v", err)

	var buf bytes.Buffer
	assert(DumpText(&buf, rd, true) == nil, "DumpText failed")
	rd.Close()

	dir := t.TempDir()
	b, err := NewBuilder(dir + "/rebuilt.cdb")
	assert(err == nil, "NewBuilder: %v", err)
	n, err := b.AddTextStream(&buf)
	assert(err == nil, "AddTextStream: %v", err)
	assert(n == len(pairs), "expected %d records reloaded, saw %d", len(pairs), n)

	rd2, err := b.Commit()
	assert(err == nil, "Commit: %v", err)
	defer rd2.Close()

	vals, ok, err := rd2.Find([]byte("k1"), true)
	assert(err == nil, "Find: %v", err)
	assert(ok, "expected k1 present after reload")
	assert(len(vals) == 2, "expected 2 values for k1, saw %d", len(vals))
}
