package packvfs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

// openMode is the parsed form of an stdio mode string.
type openMode struct {
	flag  int
	write bool
}

// parseOptions converts "r", "w", "a" with optional "+", "b" and "t"
// modifiers into os.OpenFile flags. Any of "w", "a" or "+" is write intent.
func parseOptions(options string) (openMode, bool) {
	if options == "" {
		return openMode{}, false
	}

	plus := strings.ContainsRune(options, '+')
	var m openMode
	switch options[0] {
	case 'r':
		m.flag = os.O_RDONLY
		if plus {
			m.flag = os.O_RDWR
		}
	case 'w':
		m.flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if plus {
			m.flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
		}
	case 'a':
		m.flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		if plus {
			m.flag = os.O_RDWR | os.O_CREATE | os.O_APPEND
		}
	default:
		return openMode{}, false
	}
	for _, c := range options[1:] {
		if !strings.ContainsRune("+bt", c) {
			return openMode{}, false
		}
	}
	m.write = options[0] != 'r' || plus
	return m, true
}

// Open resolves name against the search paths in order and opens the first
// match. Write intent skips read-only and archive search paths. A non-empty
// pathID restricts the scan to search paths with exactly that tag. The
// returned handle is nil when nothing matches.
func (fsys *FileSystem) Open(name, options, pathID string) (*Handle, error) {
	if name == "" {
		return nil, errors.New(errors.CodeInvalidInput, "file name is empty")
	}
	mode, ok := parseOptions(options)
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput, "invalid open options %q", options)
	}

	rel := cleanPath(name)
	for _, sp := range fsys.searchPaths {
		if sp.readOnly() && mode.write {
			continue
		}
		if !sp.matchesFilter(pathID) {
			continue
		}

		if sp.isArchive() {
			if h := fsys.openEntry(sp, rel); h != nil {
				return h, nil
			}
			continue
		}

		full := joinPath(sp.location, rel)
		f, err := fsys.backend.OpenFile(full, mode.flag, 0666)
		if err != nil {
			continue
		}
		if info, err := f.Stat(); err == nil && info.IsDir() {
			f.Close()
			continue
		}

		if mode.write {
			fsys.cache.invalidateTree(rel)
		}
		h := newPlainHandle(fsys, full, f, mode.write)
		fsys.openFiles = append(fsys.openFiles, h)
		fsys.warn(WarningReportAllAccesses, "Open: Opened file \"%s\"", full)
		return h, nil
	}

	return nil, errors.WithContext(
		errors.Newf(errors.CodeNotFound, "couldn't find %q in any search path", name),
		"path_id", pathID)
}

// OpenFromCacheForRead opens name from the archive search paths only.
func (fsys *FileSystem) OpenFromCacheForRead(name, options, pathID string) (*Handle, error) {
	if name == "" {
		return nil, errors.New(errors.CodeInvalidInput, "file name is empty")
	}
	mode, ok := parseOptions(options)
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput, "invalid open options %q", options)
	}
	if mode.write {
		fsys.warn(WarningCritical, "OpenFromCacheForRead: Tried to open file \"%s\" with write option!", name)
		return nil, errors.Newf(errors.CodeInvalidInput, "archive entries cannot be opened for writing: %q", name)
	}

	rel := cleanPath(name)
	for _, sp := range fsys.searchPaths {
		if !sp.isArchive() || !sp.matchesFilter(pathID) {
			continue
		}
		if h := fsys.openEntry(sp, rel); h != nil {
			return h, nil
		}
	}

	return nil, errors.Newf(errors.CodeNotFound, "couldn't find %q in any pack file", name)
}

func (fsys *FileSystem) openEntry(sp *searchPath, rel string) *Handle {
	if sp.stream == nil {
		return nil
	}
	e, ok := sp.entries.Lookup(rel)
	if !ok {
		return nil
	}
	h := newViewHandle(fsys, e.Name, sp.stream, int64(e.Offset), int64(e.Length))
	fsys.openFiles = append(fsys.openFiles, h)
	fsys.warn(WarningReportAllAccesses, "Open: Opened \"%s\" from pack file \"%s\"", e.Name, sp.location)
	return h
}

// findPhysical returns the first existing backend path for name among the
// plain search paths, along with its file info.
func (fsys *FileSystem) findPhysical(name string) (string, os.FileInfo, bool) {
	rel := cleanPath(name)

	if full, info, ok := fsys.cache.getStat(rel); ok {
		return full, info, true
	}
	if fsys.cache.isNegative(rel) {
		return "", nil, false
	}

	for _, sp := range fsys.searchPaths {
		if sp.isArchive() {
			continue
		}
		full := joinPath(sp.location, rel)
		info, err := fsys.backend.Stat(full)
		if err != nil {
			continue
		}
		fsys.cache.putStat(rel, full, info)
		return full, info, true
	}

	fsys.cache.putNegative(rel)
	return "", nil, false
}

// FileExists reports whether any search path holds name.
func (fsys *FileSystem) FileExists(name string) bool {
	if name == "" {
		return false
	}
	rel := cleanPath(name)
	for _, sp := range fsys.searchPaths {
		if sp.isArchive() {
			if _, ok := sp.entries.Lookup(rel); ok || sp.entries.HasDir(rel) {
				return true
			}
			continue
		}
		if _, err := fsys.backend.Stat(joinPath(sp.location, rel)); err == nil {
			return true
		}
	}
	return false
}

// IsDirectory reports whether any search path holds name as a directory.
func (fsys *FileSystem) IsDirectory(name string) bool {
	if name == "" {
		return false
	}
	rel := cleanPath(name)
	for _, sp := range fsys.searchPaths {
		if sp.isArchive() {
			if sp.entries.HasDir(rel) {
				return true
			}
			continue
		}
		if info, err := fsys.backend.Stat(joinPath(sp.location, rel)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// SizeByName returns the size of the first physical file matching name.
// Archive entries are not consulted.
func (fsys *FileSystem) SizeByName(name string) uint32 {
	if name == "" {
		return 0
	}
	_, info, ok := fsys.findPhysical(name)
	if !ok {
		return 0
	}
	return uint32(info.Size())
}

// FileTime returns the modification time, in Unix seconds, of the first
// physical file matching name. Archive entries are not consulted.
func (fsys *FileSystem) FileTime(name string) int64 {
	if name == "" {
		return 0
	}
	_, info, ok := fsys.findPhysical(name)
	if !ok {
		return 0
	}
	return info.ModTime().Unix()
}

// FileTimeToString renders a FileTime value the way ctime does.
func FileTimeToString(fileTime int64) string {
	return time.Unix(fileTime, 0).Format(time.ANSIC) + "\n"
}

// LocalPath returns the first existing backend path for name.
func (fsys *FileSystem) LocalPath(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	full, _, ok := fsys.findPhysical(name)
	return full, ok
}

// firstWritable returns the first writable search path matching pathID.
func (fsys *FileSystem) firstWritable(pathID string) *searchPath {
	for _, sp := range fsys.searchPaths {
		if sp.readOnly() || !sp.matchesFilter(pathID) {
			continue
		}
		return sp
	}
	return nil
}

// CreateDirHierarchy creates path beneath the first writable search path
// matching pathID, falling back to the first writable search path of any
// tag. Nothing happens when no search path is writable.
func (fsys *FileSystem) CreateDirHierarchy(path, pathID string) {
	if path == "" {
		return
	}

	sp := fsys.firstWritable(pathID)
	if sp == nil && pathID != "" {
		sp = fsys.firstWritable("")
	}
	if sp == nil {
		return
	}

	rel := cleanPath(path)
	if err := fsys.backend.MkdirAll(joinPath(sp.location, rel), 0755); err != nil {
		fsys.warn(WarningReportUsage, "CreateDirHierarchy: \"%s\": %v", rel, err)
	}
	fsys.cache.invalidateTree(rel)
}

// RemoveFile removes name from the first writable search path where the
// removal succeeds. Missing files are skipped.
func (fsys *FileSystem) RemoveFile(name, pathID string) {
	if name == "" {
		return
	}

	rel := cleanPath(name)
	for _, sp := range fsys.searchPaths {
		if sp.readOnly() || !sp.matchesFilter(pathID) {
			continue
		}
		if err := fsys.backend.Remove(joinPath(sp.location, rel)); err == nil {
			fsys.cache.invalidateTree(rel)
			return
		}
	}
}

// checkHandle validates h before a file operation and reports misuse.
func (fsys *FileSystem) checkHandle(h *Handle, op, verb string) bool {
	if h == nil {
		fsys.warn(WarningCritical, "%s: Attempted to %s null file handle!", op, verb)
		return false
	}
	if !h.open {
		fsys.warn(WarningCritical, "%s: Attempted to %s handle with null file pointer!", op, verb)
		return false
	}
	return true
}

// CloseFile closes h and removes it from the open handle table. Handles
// that are unknown or already closed are ignored.
func (fsys *FileSystem) CloseFile(h *Handle) {
	if h == nil {
		return
	}
	fsys.closeHandle(h)
}

func (fsys *FileSystem) closeHandle(h *Handle) error {
	idx := -1
	for i, open := range fsys.openFiles {
		if open == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	var err error
	if h.open {
		fsys.warn(WarningReportAllAccesses, "Close: Closing file \"%s\"", h.name)
		err = h.close()
	} else {
		fsys.warn(WarningCritical, "Close: Closing file that was already closed, or not opened!")
	}

	fsys.openFiles = append(fsys.openFiles[:idx], fsys.openFiles[idx+1:]...)
	return err
}

// Seek moves the file position of h. Archive views interpret positions
// relative to their window.
func (fsys *FileSystem) Seek(h *Handle, pos int64, origin SeekOrigin) bool {
	if !fsys.checkHandle(h, "Seek", "seek") {
		return false
	}
	if origin < SeekStart || origin > SeekEnd {
		fsys.warn(WarningCritical, "Seek: invalid seek type '%d'", int(origin))
		return false
	}
	_, err := h.seek(pos, origin)
	return err == nil
}

// Tell returns the file position of h.
func (fsys *FileSystem) Tell(h *Handle) uint32 {
	if !fsys.checkHandle(h, "Tell", "tell") {
		return 0
	}
	return uint32(h.tell())
}

// Size returns the size of the file behind h, or the window length for
// archive views.
func (fsys *FileSystem) Size(h *Handle) uint32 {
	if !fsys.checkHandle(h, "Size", "size") {
		return 0
	}
	return uint32(h.size())
}

// IsOk reports whether no I/O error occurred on h.
func (fsys *FileSystem) IsOk(h *Handle) bool {
	if !fsys.checkHandle(h, "IsOk", "check for ok") {
		return false
	}
	return h.err == nil
}

// Flush writes out buffered data of h.
func (fsys *FileSystem) Flush(h *Handle) {
	if !fsys.checkHandle(h, "Flush", "flush") {
		return
	}
	h.flushBuffer()
}

// EndOfFile reports whether h is at the end of its file or window.
func (fsys *FileSystem) EndOfFile(h *Handle) bool {
	if !fsys.checkHandle(h, "EndOfFile", "check for EOF on") {
		return false
	}
	return h.endOfFile()
}

// Read reads up to len(p) bytes from h and returns how many were read.
// Archive views never return bytes past the end of their window.
func (fsys *FileSystem) Read(h *Handle, p []byte) int {
	if !fsys.checkHandle(h, "Read", "read from") {
		return 0
	}
	n, _ := h.read(p)
	return n
}

// Write writes p to h and returns how many bytes were written.
func (fsys *FileSystem) Write(h *Handle, p []byte) int {
	if !fsys.checkHandle(h, "Write", "write to") {
		return 0
	}
	if h.view {
		fsys.warn(WarningCritical, "Write: Attempted to write to pack file entry \"%s\"!", h.name)
		return 0
	}
	if !h.writable {
		fsys.warn(WarningCritical, "Write: Attempted to write to read-only file \"%s\"!", h.name)
		return 0
	}
	n, _ := h.write(p)
	return n
}

// Printf writes formatted output to h and returns the number of bytes
// written.
func (fsys *FileSystem) Printf(h *Handle, format string, args ...any) int {
	if !fsys.checkHandle(h, "Printf", "format print to") {
		return 0
	}
	return fsys.Write(h, []byte(fmt.Sprintf(format, args...)))
}

// ReadLine reads a line of at most maxChars-1 bytes, including the
// newline. It reports false at end of file.
func (fsys *FileSystem) ReadLine(h *Handle, maxChars int) (string, bool) {
	if !fsys.checkHandle(h, "ReadLine", "read line from") {
		return "", false
	}
	return h.readLine(maxChars)
}

// SetVBuf sets the write buffering of a plain handle. Archive views do not
// buffer.
func (fsys *FileSystem) SetVBuf(h *Handle, mode BufferMode, size int) bool {
	if !fsys.checkHandle(h, "SetVBuf", "set VBuf for") {
		return false
	}
	if h.view {
		fsys.warn(WarningCritical, "SetVBuf: Attempted to set VBuf for pack file entry \"%s\"!", h.name)
		return false
	}
	return h.setBuffering(mode, size)
}
