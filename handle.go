package packvfs

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/spf13/afero"
)

// SeekOrigin selects the reference point of Seek.
type SeekOrigin int

const (
	// SeekStart seeks relative to the start of the file or window.
	SeekStart SeekOrigin = iota
	// SeekCurrent seeks relative to the current position.
	SeekCurrent
	// SeekEnd seeks relative to the end of the file or window.
	SeekEnd
)

// BufferMode is a write buffering hint for SetVBuf.
type BufferMode int

const (
	// BufferFull flushes when the buffer fills.
	BufferFull BufferMode = iota
	// BufferLine flushes after every newline.
	BufferLine
	// BufferNone writes through.
	BufferNone
)

// Handle is an open file: either a whole backend file or a window into an
// archive stream owned by a search path.
type Handle struct {
	fsys *FileSystem
	name string
	file afero.File
	open bool

	// Archive views only. pos is relative to start; the shared stream is
	// repositioned before every read.
	view   bool
	start  int64
	length int64
	pos    int64

	writable bool
	eof      bool
	err      error
	buf      *bufio.Writer
	bufMode  BufferMode
}

func newPlainHandle(fsys *FileSystem, name string, f afero.File, writable bool) *Handle {
	return &Handle{fsys: fsys, name: name, file: f, open: true, writable: writable, bufMode: BufferNone}
}

func newViewHandle(fsys *FileSystem, name string, stream afero.File, start, length int64) *Handle {
	return &Handle{fsys: fsys, name: name, file: stream, open: true, view: true, start: start, length: length, bufMode: BufferNone}
}

// Name returns the path the handle was opened with.
func (h *Handle) Name() string {
	return h.name
}

// IsArchiveView reports whether the handle is a window into an archive.
func (h *Handle) IsArchiveView() bool {
	return h.view
}

// IsOpen reports whether the handle has not been closed.
func (h *Handle) IsOpen() bool {
	return h != nil && h.open
}

func (h *Handle) flushBuffer() error {
	if h.buf == nil || h.buf.Buffered() == 0 {
		return nil
	}
	err := h.buf.Flush()
	h.changed()
	if err != nil {
		h.err = err
		return err
	}
	return nil
}

// changed drops cached lookups of the file behind a writable handle.
func (h *Handle) changed() {
	if h.writable && !h.view {
		h.fsys.cache.invalidateFile(h.name)
	}
}

func (h *Handle) seek(offset int64, origin SeekOrigin) (int64, error) {
	if err := h.flushBuffer(); err != nil {
		return 0, err
	}

	if h.view {
		var target int64
		switch origin {
		case SeekStart:
			target = offset
		case SeekCurrent:
			target = h.pos + offset
		case SeekEnd:
			target = h.length + offset
		default:
			return 0, os.ErrInvalid
		}
		if target < 0 {
			return 0, os.ErrInvalid
		}
		h.pos = target
		h.eof = false
		return h.pos, nil
	}

	var whence int
	switch origin {
	case SeekStart:
		whence = io.SeekStart
	case SeekCurrent:
		whence = io.SeekCurrent
	case SeekEnd:
		whence = io.SeekEnd
	default:
		return 0, os.ErrInvalid
	}
	pos, err := h.file.Seek(offset, whence)
	if err != nil {
		h.err = err
		return 0, err
	}
	h.eof = false
	return pos, nil
}

func (h *Handle) tell() int64 {
	if h.view {
		return h.pos
	}
	pos, err := h.file.Seek(0, io.SeekCurrent)
	if err != nil {
		h.err = err
		return 0
	}
	if h.buf != nil {
		pos += int64(h.buf.Buffered())
	}
	return pos
}

func (h *Handle) size() int64 {
	if h.view {
		return h.length
	}
	h.flushBuffer()
	info, err := h.file.Stat()
	if err != nil {
		h.err = err
		return 0
	}
	return info.Size()
}

// remaining returns how many bytes of the window are left to read.
func (h *Handle) remaining() int64 {
	if h.length == 0 || h.pos >= h.length {
		return 0
	}
	return h.length - h.pos
}

func (h *Handle) read(p []byte) (int, error) {
	if err := h.flushBuffer(); err != nil {
		return 0, err
	}

	if !h.view {
		n, err := io.ReadFull(h.file, p)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			h.eof = true
			return n, io.EOF
		}
		if err != nil {
			h.err = err
		}
		return n, err
	}

	left := h.remaining()
	if left == 0 {
		h.eof = true
		return 0, io.EOF
	}
	if int64(len(p)) > left {
		p = p[:left]
	}

	if _, err := h.file.Seek(h.start+h.pos, io.SeekStart); err != nil {
		h.err = err
		return 0, err
	}
	n, err := io.ReadFull(h.file, p)
	h.pos += int64(n)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// The archive is shorter than its directory claims.
		h.eof = true
		return n, io.EOF
	}
	if err != nil {
		h.err = err
	}
	return n, err
}

// readLine reads at most max-1 bytes, stopping after a newline.
func (h *Handle) readLine(max int) (string, bool) {
	if max <= 1 {
		return "", false
	}

	limit := int64(max - 1)
	if h.view {
		left := h.remaining()
		if left == 0 {
			h.eof = true
			return "", false
		}
		if limit > left {
			limit = left
		}
	}

	start := h.tell()
	chunk := make([]byte, limit)
	n, err := h.read(chunk)
	if n == 0 {
		if err != nil && err != io.EOF {
			h.err = err
		}
		return "", false
	}
	chunk = chunk[:n]

	if i := bytes.IndexByte(chunk, '\n'); i >= 0 && i+1 < n {
		chunk = chunk[:i+1]
		if _, err := h.seek(start+int64(i+1), SeekStart); err != nil {
			return "", false
		}
		h.eof = false
	}
	return string(chunk), true
}

func (h *Handle) write(p []byte) (int, error) {
	if h.buf != nil {
		n, err := h.buf.Write(p)
		if err != nil {
			h.err = err
			return n, err
		}
		if h.bufMode == BufferLine && bytes.IndexByte(p, '\n') >= 0 {
			err = h.flushBuffer()
		}
		return n, err
	}

	n, err := h.file.Write(p)
	h.changed()
	if err != nil {
		h.err = err
	}
	return n, err
}

func (h *Handle) endOfFile() bool {
	if h.view {
		return h.pos >= h.length
	}
	return h.eof
}

func (h *Handle) setBuffering(mode BufferMode, size int) bool {
	if err := h.flushBuffer(); err != nil {
		return false
	}
	switch mode {
	case BufferNone:
		h.buf = nil
	case BufferFull, BufferLine:
		if size <= 0 {
			size = 4096
		}
		h.buf = bufio.NewWriterSize(h.file, size)
	default:
		return false
	}
	h.bufMode = mode
	return true
}

func (h *Handle) close() error {
	if !h.open {
		return nil
	}
	h.open = false
	err := h.flushBuffer()
	if h.view {
		// The stream belongs to the search path.
		h.file = nil
		return err
	}
	if cerr := h.file.Close(); err == nil {
		err = cerr
	}
	h.changed()
	return err
}

// Read implements io.Reader.
func (h *Handle) Read(p []byte) (int, error) {
	if !h.IsOpen() {
		return 0, os.ErrClosed
	}
	return h.read(p)
}

// Seek implements io.Seeker. Offsets are relative to the archive window
// for archive views.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	if !h.IsOpen() {
		return 0, os.ErrClosed
	}
	return h.seek(offset, SeekOrigin(whence))
}

// Write implements io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	if !h.IsOpen() {
		return 0, os.ErrClosed
	}
	if h.view || !h.writable {
		return 0, os.ErrPermission
	}
	return h.write(p)
}

// Close closes the handle through its FileSystem.
func (h *Handle) Close() error {
	if !h.IsOpen() {
		return nil
	}
	return h.fsys.closeHandle(h)
}
