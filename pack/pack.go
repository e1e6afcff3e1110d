// Package pack reads and writes pack archives: a single file holding a
// directory of named byte ranges.
//
// An archive starts with a 12 byte header (magic, directory offset,
// directory length) followed by file data and a directory of fixed-size
// records. All integers are little-endian and 32 bits wide. Two kinds
// exist and differ in record size and maximum entry count:
//
//	Kind    Magic   Name field  Record  Max entries
//	Pack32  "PACK"  56 bytes    64      4096
//	Pack64  "PK64"  120 bytes   128     65536
package pack

import (
	"bytes"
	"encoding/binary"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmgilman/go/errors"
)

// Error codes for archive parsing failures.
const (
	CodeNotAnArchive     errors.ErrorCode = "NOT_AN_ARCHIVE"
	CodeCorruptArchive   errors.ErrorCode = "CORRUPT_ARCHIVE"
	CodeTruncatedArchive errors.ErrorCode = "TRUNCATED_ARCHIVE"
	CodeTooManyEntries   errors.ErrorCode = "TOO_MANY_ENTRIES"
)

// HeaderSize is the size of the fixed archive header in bytes.
const HeaderSize = 12

// Kind identifies the archive layout.
type Kind int

const (
	// NotAPack is returned by Identify for unrecognized headers.
	NotAPack Kind = iota
	// Pack32 is the classic layout with 56 byte names.
	Pack32
	// Pack64 is the extended layout with 120 byte names.
	Pack64
)

type layout struct {
	name       string
	magic      [4]byte
	nameSize   int
	maxEntries int
}

var layouts = map[Kind]layout{
	Pack32: {name: "PACK32", magic: [4]byte{'P', 'A', 'C', 'K'}, nameSize: 56, maxEntries: 4096},
	Pack64: {name: "PACK64", magic: [4]byte{'P', 'K', '6', '4'}, nameSize: 120, maxEntries: 65536},
}

// String returns the kind name.
func (k Kind) String() string {
	if l, ok := layouts[k]; ok {
		return l.name
	}
	return "NOT_A_PACK"
}

// NameSize returns the size of the fixed name field of a directory record.
func (k Kind) NameSize() int {
	return layouts[k].nameSize
}

// RecordSize returns the size of one directory record.
func (k Kind) RecordSize() int {
	if _, ok := layouts[k]; !ok {
		return 0
	}
	return layouts[k].nameSize + 8
}

// MaxEntries returns the maximum number of directory records.
func (k Kind) MaxEntries() int {
	return layouts[k].maxEntries
}

// Magic returns the 4 byte signature of the kind.
func (k Kind) Magic() [4]byte {
	return layouts[k].magic
}

// Identify returns the archive kind for the given header bytes.
func Identify(header []byte) Kind {
	if len(header) < 4 {
		return NotAPack
	}
	for kind, l := range layouts {
		if bytes.Equal(header[:4], l.magic[:]) {
			return kind
		}
	}
	return NotAPack
}

// Entry is one file stored in an archive.
type Entry struct {
	Name   string
	Offset uint32
	Length uint32
}

// Directory maps normalized entry names to entries.
type Directory map[string]Entry

// Lookup returns the entry stored under name, normalizing its separators.
func (d Directory) Lookup(name string) (Entry, bool) {
	e, ok := d[NormalizeName(name)]
	return e, ok
}

// Len returns the number of entries.
func (d Directory) Len() int {
	return len(d)
}

// Names returns the entry names in lexical order.
func (d Directory) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasDir reports whether any entry lives beneath dir.
func (d Directory) HasDir(dir string) bool {
	dir = NormalizeName(dir)
	if dir == "" {
		return len(d) > 0
	}
	prefix := dir + string(filepath.Separator)
	for name := range d {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// NormalizeName converts both separator styles to the platform separator
// and strips leading separators and "./" prefixes.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")
	for strings.HasPrefix(name, "./") {
		name = strings.TrimLeft(name[2:], "/")
	}
	return filepath.FromSlash(name)
}

type header struct {
	Magic     [4]byte
	DirOffset uint32
	DirLength uint32
}

func readHeader(r io.Reader) (header, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, errors.Wrap(err, CodeTruncatedArchive, "couldn't read archive header")
	}
	return h, nil
}

// ParseDirectory reads the directory of an archive of the given kind. The
// reader is left positioned after the directory.
func ParseDirectory(r io.ReadSeeker, kind Kind) (Directory, error) {
	l, ok := layouts[kind]
	if !ok {
		return nil, errors.New(CodeNotAnArchive, "unknown archive kind")
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, CodeTruncatedArchive, "couldn't rewind archive")
	}
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	recordSize := uint32(kind.RecordSize())
	if h.DirLength%recordSize != 0 {
		return nil, errors.Newf(CodeCorruptArchive, "%s: invalid directory length %d", l.name, h.DirLength)
	}

	count := int(h.DirLength / recordSize)
	if count > l.maxEntries {
		return nil, errors.Newf(CodeTooManyEntries, "%s: too many files (max %d, got %d)", l.name, l.maxEntries, count)
	}

	if _, err := r.Seek(int64(h.DirOffset), io.SeekStart); err != nil {
		return nil, errors.Wrapf(err, CodeTruncatedArchive, "%s: couldn't seek to directory", l.name)
	}

	raw := make([]byte, int(h.DirLength))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, CodeTruncatedArchive, "%s: couldn't read directory entries", l.name)
	}

	dir := make(Directory, count)
	for i := 0; i < count; i++ {
		rec := raw[i*int(recordSize) : (i+1)*int(recordSize)]
		field := rec[:l.nameSize]
		if n := bytes.IndexByte(field, 0); n >= 0 {
			field = field[:n]
		}
		name := NormalizeName(string(field))
		dir[name] = Entry{
			Name:   name,
			Offset: binary.LittleEndian.Uint32(rec[l.nameSize:]),
			Length: binary.LittleEndian.Uint32(rec[l.nameSize+4:]),
		}
	}
	return dir, nil
}

// ReadDirectory identifies the archive behind r and parses its directory.
func ReadDirectory(r io.ReadSeeker) (Kind, Directory, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return NotAPack, nil, errors.Wrap(err, CodeTruncatedArchive, "couldn't rewind archive")
	}
	h, err := readHeader(r)
	if err != nil {
		return NotAPack, nil, err
	}
	kind := Identify(h.Magic[:])
	if kind == NotAPack {
		return NotAPack, nil, errors.New(CodeNotAnArchive, "not a pack file")
	}
	dir, err := ParseDirectory(r, kind)
	if err != nil {
		return kind, nil, err
	}
	return kind, dir, nil
}
