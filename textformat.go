// textformat.go -- the "+klen,vlen:key->val" ancillary text encoding
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
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrCorruptText is returned by TextReader when the input doesn't match
// the "+klen,vlen:key->val\n" record grammar.
var ErrCorruptText = errors.New("cdbx: malformed text record")

// TextWriter emits records in the line-oriented text form djb's cdbmake
// uses: "+klen,vlen:key->val\n" per record, a single blank line to mark
// the end of the stream. Lengths are counted in bytes, not runes, so the
// format round-trips arbitrary binary keys and values.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter wraps w for text-format output.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// WriteRecord emits one key/value pair.
func (tw *TextWriter) WriteRecord(key, val []byte) error {
	_, err := fmt.Fprintf(tw.w, "+%d,%d:%s->%s\n", len(key), len(val), key, val)
	return err
}

// Close writes the blank-line terminator. It does not close the
// underlying writer.
func (tw *TextWriter) Close() error {
	_, err := io.WriteString(tw.w, "\n")
	return err
}

// TextReader decodes the stream TextWriter produces.
type TextReader struct {
	r *bufio.Reader
}

// NewTextReader wraps r for text-format input.
func NewTextReader(r io.Reader) *TextReader {
	return &TextReader{r: bufio.NewReader(r)}
}

// Next returns the next decoded record, or io.EOF once the blank-line
// terminator (or the underlying reader's own EOF) is reached.
func (tr *TextReader) Next() (key, val []byte, err error) {
	lead, err := tr.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, err
	}
	if lead == '\n' {
		return nil, nil, io.EOF
	}
	if lead != '+' {
		return nil, nil, ErrCorruptText
	}

	klen, err := tr.readCount(',')
	if err != nil {
		return nil, nil, err
	}
	vlen, err := tr.readCount(':')
	if err != nil {
		return nil, nil, err
	}

	key = make([]byte, klen)
	if _, err := io.ReadFull(tr.r, key); err != nil {
		return nil, nil, wrapIO("<text>", "read_key", err)
	}
	if err := tr.expect("->"); err != nil {
		return nil, nil, err
	}
	val = make([]byte, vlen)
	if _, err := io.ReadFull(tr.r, val); err != nil {
		return nil, nil, wrapIO("<text>", "read_val", err)
	}
	nl, err := tr.r.ReadByte()
	if err != nil {
		return nil, nil, wrapIO("<text>", "read_terminator", err)
	}
	if nl != '\n' {
		return nil, nil, ErrCorruptText
	}
	return key, val, nil
}

// readCount reads a run of ASCII decimal digits up to and including delim.
func (tr *TextReader) readCount(delim byte) (int, error) {
	n := 0
	saw := false
	for {
		c, err := tr.r.ReadByte()
		if err != nil {
			return 0, wrapIO("<text>", "read_count", err)
		}
		if c == delim {
			if !saw {
				return 0, ErrCorruptText
			}
			return n, nil
		}
		if c < '0' || c > '9' {
			return 0, ErrCorruptText
		}
		saw = true
		n = n*10 + int(c-'0')
	}
}

func (tr *TextReader) expect(lit string) error {
	buf := make([]byte, len(lit))
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		return wrapIO("<text>", "read_literal", err)
	}
	if string(buf) != lit {
		return ErrCorruptText
	}
	return nil
}

// AddTextStream bulk-loads records from the text format into the Builder,
// stopping at the terminator or the reader's own EOF. It returns the
// number of records added.
func (b *Builder) AddTextStream(r io.Reader) (int, error) {
	tr := NewTextReader(r)
	n := 0
	for {
		key, val, err := tr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := b.Add(key, val); err != nil {
			return n, err
		}
		n++
	}
}

// DumpText writes every record in rd to w in text format, in the same
// traversal order as rd.Items(all). A trailing blank-line terminator is
// written on success, so the output is itself valid TextReader input.
func DumpText(w io.Writer, rd *Reader, all bool) error {
	it, err := rd.Items(all)
	if err != nil {
		return err
	}
	defer it.Close()

	tw := NewTextWriter(w)
	for {
		key, val, err := it.Next()
		if err != nil {
			return err
		}
		if key == nil && val == nil {
			break
		}
		if err := tw.WriteRecord(key, val); err != nil {
			return err
		}
	}
	return tw.Close()
}
