package pack

import (
	"encoding/binary"
	"io"
	"math"
	"path/filepath"

	"github.com/jmgilman/go/errors"
)

// Writer builds an archive. File bodies are streamed as they are added;
// the directory is appended and the header patched on Close.
type Writer struct {
	w       io.WriteSeeker
	kind    Kind
	entries []Entry
	offset  int64
	closed  bool
}

// NewWriter starts an archive of the given kind on w. The header is
// written as a placeholder and rewritten by Close.
func NewWriter(w io.WriteSeeker, kind Kind) (*Writer, error) {
	if _, ok := layouts[kind]; !ok {
		return nil, errors.New(errors.CodeInvalidInput, "unknown archive kind")
	}
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "couldn't rewind archive")
	}
	pw := &Writer{w: w, kind: kind, offset: HeaderSize}
	if err := pw.writeHeader(0, 0); err != nil {
		return nil, err
	}
	return pw, nil
}

// Add appends a file body read from r under name.
func (pw *Writer) Add(name string, r io.Reader) error {
	if pw.closed {
		return errors.New(errors.CodeInvalidInput, "archive writer is closed")
	}

	stored := filepath.ToSlash(NormalizeName(name))
	if stored == "" {
		return errors.New(errors.CodeInvalidInput, "empty entry name")
	}
	if len(stored) >= pw.kind.NameSize() {
		return errors.Newf(errors.CodeInvalidInput, "entry name %q exceeds %d bytes", stored, pw.kind.NameSize()-1)
	}
	if len(pw.entries) >= pw.kind.MaxEntries() {
		return errors.Newf(CodeTooManyEntries, "%s: too many files (max %d)", pw.kind, pw.kind.MaxEntries())
	}

	n, err := io.Copy(pw.w, r)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "couldn't write entry %q", stored)
	}
	if pw.offset+n > math.MaxUint32 {
		return errors.Newf(errors.CodeInvalidInput, "entry %q ends beyond the 32-bit offset limit", stored)
	}

	pw.entries = append(pw.entries, Entry{Name: stored, Offset: uint32(pw.offset), Length: uint32(n)})
	pw.offset += n
	return nil
}

// Entries returns the entries added so far, with archive-internal names.
func (pw *Writer) Entries() []Entry {
	out := make([]Entry, len(pw.entries))
	copy(out, pw.entries)
	return out
}

// Close writes the directory and the final header. It does not close the
// underlying writer.
func (pw *Writer) Close() error {
	if pw.closed {
		return nil
	}
	pw.closed = true

	recordSize := pw.kind.RecordSize()
	dirLength := int64(len(pw.entries) * recordSize)
	if pw.offset+dirLength > math.MaxUint32 {
		return errors.New(errors.CodeInvalidInput, "directory ends beyond the 32-bit offset limit")
	}

	buf := make([]byte, dirLength)
	nameSize := pw.kind.NameSize()
	for i, e := range pw.entries {
		rec := buf[i*recordSize : (i+1)*recordSize]
		copy(rec[:nameSize], e.Name)
		binary.LittleEndian.PutUint32(rec[nameSize:], e.Offset)
		binary.LittleEndian.PutUint32(rec[nameSize+4:], e.Length)
	}
	if _, err := pw.w.Write(buf); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "couldn't write directory")
	}

	if _, err := pw.w.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "couldn't rewind archive")
	}
	if err := pw.writeHeader(uint32(pw.offset), uint32(dirLength)); err != nil {
		return err
	}
	_, err := pw.w.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "couldn't seek to archive end")
	}
	return nil
}

func (pw *Writer) writeHeader(dirOffset, dirLength uint32) error {
	h := header{Magic: pw.kind.Magic(), DirOffset: dirOffset, DirLength: dirLength}
	if err := binary.Write(pw.w, binary.LittleEndian, &h); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "couldn't write archive header")
	}
	return nil
}
