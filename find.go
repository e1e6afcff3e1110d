package packvfs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
)

// FindHandle addresses a find cursor. Handles stay stable while other
// cursors are opened and closed.
type FindHandle int

// InvalidFindHandle is returned when a search matches nothing.
const InvalidFindHandle FindHandle = -1

type findFlag uint8

const (
	findValid findFlag = 1 << iota
	findEndOfData
)

// findCursor is the state of one wildcard search.
type findCursor struct {
	filter glob.Glob
	pathID string
	flags  findFlag

	next    int // index of the next search path to walk
	current *searchPath
	walker  entryWalker

	// Most recently returned entry.
	fullPath string
	isDir    bool
}

// entryWalker yields the entries beneath one search path.
type entryWalker interface {
	// Next returns the next entry path and whether it is a directory.
	Next() (string, bool, bool)
}

// compileWildcard compiles a pattern where "*" matches any sequence,
// separators included. Every other character matches literally.
func compileWildcard(pattern string) (glob.Glob, error) {
	pattern = cleanWildcard(pattern)
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = glob.QuoteMeta(part)
	}
	return glob.Compile(strings.Join(parts, "*"))
}

// cleanWildcard converts separators without collapsing wildcards.
func cleanWildcard(pattern string) string {
	return filepath.FromSlash(strings.ReplaceAll(pattern, "\\", "/"))
}

// FindFirst starts a search across all search paths matching pathID and
// returns the first matching path. It returns InvalidFindHandle when
// nothing matches.
func (fsys *FileSystem) FindFirst(pattern, pathID string) (string, FindHandle) {
	if pattern == "" {
		return "", InvalidFindHandle
	}

	filter, err := compileWildcard(pattern)
	if err != nil {
		fsys.warn(WarningCritical, "FindFirst: Invalid wildcard: %v", err)
		return "", InvalidFindHandle
	}

	fsys.finds = append(fsys.finds, &findCursor{
		filter: filter,
		pathID: pathID,
		flags:  findValid,
	})
	handle := FindHandle(len(fsys.finds) - 1)

	if name, ok := fsys.FindNext(handle); ok {
		return name, handle
	}

	// Nothing found.
	fsys.FindClose(handle)
	return "", InvalidFindHandle
}

func (fsys *FileSystem) cursor(handle FindHandle) *findCursor {
	if handle < 0 || int(handle) >= len(fsys.finds) {
		return nil
	}
	c := fsys.finds[handle]
	if c == nil || c.flags&findValid == 0 {
		return nil
	}
	return c
}

// FindNext returns the next path matching the search. Once the search is
// exhausted it keeps returning false.
func (fsys *FileSystem) FindNext(handle FindHandle) (string, bool) {
	c := fsys.cursor(handle)
	if c == nil || c.flags&findEndOfData != 0 {
		return "", false
	}

	for {
		// Reached the end of the current search path.
		if c.walker == nil {
			if !fsys.advanceSearchPath(c) {
				c.flags |= findEndOfData
				c.fullPath = ""
				c.isDir = false
				return "", false
			}
		}

		for {
			full, isDir, ok := c.walker.Next()
			if !ok {
				break
			}
			rel := relativeTo(c.current.location, full)
			if c.filter.Match(full) || c.filter.Match(rel) {
				c.fullPath = full
				c.isDir = isDir
				return full, true
			}
		}

		// Empty or without matching contents, go to the next one.
		c.walker = nil
	}
}

// advanceSearchPath starts a walk over the next search path matching the
// cursor's path ID.
func (fsys *FileSystem) advanceSearchPath(c *findCursor) bool {
	for c.next < len(fsys.searchPaths) {
		sp := fsys.searchPaths[c.next]
		c.next++
		if !sp.matchesFilter(c.pathID) {
			continue
		}

		c.current = sp
		if sp.isArchive() {
			c.walker = newArchiveWalker(sp)
		} else {
			c.walker = newDirWalker(fsys.backend, sp.location)
		}
		return true
	}
	return false
}

// FindIsDirectory reports whether the entry last returned by the search
// is a directory.
func (fsys *FileSystem) FindIsDirectory(handle FindHandle) bool {
	c := fsys.cursor(handle)
	if c == nil || c.flags&findEndOfData != 0 {
		return false
	}
	return c.isDir
}

// FindClose ends a search. Closing the most recent search reclaims it
// along with any closed searches before it; other searches are only
// flagged so that outstanding handles keep their meaning.
func (fsys *FileSystem) FindClose(handle FindHandle) {
	c := fsys.cursor(handle)
	if c == nil {
		return
	}
	c.flags &^= findValid
	c.walker = nil

	if int(handle) != len(fsys.finds)-1 {
		return
	}
	for len(fsys.finds) > 0 {
		last := fsys.finds[len(fsys.finds)-1]
		if last != nil && last.flags&findValid != 0 {
			break
		}
		fsys.finds[len(fsys.finds)-1] = nil
		fsys.finds = fsys.finds[:len(fsys.finds)-1]
	}
}

// OpenFinds returns the number of slots in the find table, including
// closed searches that have not been reclaimed yet.
func (fsys *FileSystem) OpenFinds() int {
	return len(fsys.finds)
}

// dirWalker is a pre-order walk in lexical order over a backend directory.
type dirWalker struct {
	fs    afero.Fs
	stack [][]string // pending full paths per directory level
}

func newDirWalker(fs afero.Fs, root string) *dirWalker {
	w := &dirWalker{fs: fs}
	w.push(root)
	return w
}

func (w *dirWalker) push(dir string) {
	infos, err := afero.ReadDir(w.fs, dir)
	if err != nil || len(infos) == 0 {
		return
	}
	paths := make([]string, len(infos))
	for i, info := range infos {
		paths[i] = filepath.Join(dir, info.Name())
	}
	w.stack = append(w.stack, paths)
}

func (w *dirWalker) Next() (string, bool, bool) {
	for len(w.stack) > 0 {
		top := len(w.stack) - 1
		if len(w.stack[top]) == 0 {
			w.stack = w.stack[:top]
			continue
		}

		full := w.stack[top][0]
		w.stack[top] = w.stack[top][1:]

		info, err := w.lstat(full)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// Links are reported but never descended into.
			isDir := false
			if target, err := w.fs.Stat(full); err == nil {
				isDir = target.IsDir()
			}
			return full, isDir, true
		}
		if info.IsDir() {
			w.push(full)
		}
		return full, info.IsDir(), true
	}
	return "", false, false
}

// lstat does not follow symbolic links on backends that can tell them
// apart.
func (w *dirWalker) lstat(name string) (os.FileInfo, error) {
	if l, ok := w.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return w.fs.Stat(name)
}

// archiveWalker yields the entries of an archive in lexical order, joined
// beneath the archive location.
type archiveWalker struct {
	location string
	names    []string
}

func newArchiveWalker(sp *searchPath) *archiveWalker {
	return &archiveWalker{location: sp.location, names: sp.entries.Names()}
}

func (w *archiveWalker) Next() (string, bool, bool) {
	if len(w.names) == 0 {
		return "", false, false
	}
	name := w.names[0]
	w.names = w.names[1:]
	return filepath.Join(w.location, name), false, true
}
