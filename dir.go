package packvfs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// entryInfo describes an archive entry or a directory implied by the names
// of archive entries.
type entryInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

var _ os.FileInfo = (*entryInfo)(nil)

func (e *entryInfo) Name() string       { return e.name }
func (e *entryInfo) Size() int64        { return e.size }
func (e *entryInfo) ModTime() time.Time { return e.modTime }
func (e *entryInfo) IsDir() bool        { return e.dir }
func (e *entryInfo) Sys() any           { return nil }

func (e *entryInfo) Mode() os.FileMode {
	if e.dir {
		return os.ModeDir | 0555
	}
	return 0444
}

func isRoot(rel string) bool {
	return rel == "" || rel == "." || rel == string(filepath.Separator)
}

// Stat returns information about the first search path entry for name.
// Archive entries report the archive's modification time; directories
// that exist only as prefixes of archive entries are synthesized.
func (fsys *FileSystem) Stat(name, pathID string) (os.FileInfo, error) {
	rel := cleanPath(name)
	if isRoot(rel) {
		return &entryInfo{name: string(filepath.Separator), dir: true}, nil
	}
	rel = strings.TrimPrefix(rel, string(filepath.Separator))

	for _, sp := range fsys.searchPaths {
		if !sp.matchesFilter(pathID) {
			continue
		}

		if sp.isArchive() {
			if e, ok := sp.entries.Lookup(rel); ok {
				return &entryInfo{
					name:    filepath.Base(rel),
					size:    int64(e.Length),
					modTime: sp.modTime,
				}, nil
			}
			if sp.entries.HasDir(rel) {
				return &entryInfo{name: filepath.Base(rel), modTime: sp.modTime, dir: true}, nil
			}
			continue
		}

		if info, err := fsys.backend.Stat(joinPath(sp.location, rel)); err == nil {
			return info, nil
		}
	}

	return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
}

// ReadDir returns the merged contents of a directory across every search
// path matching pathID. When several search paths hold the same name the
// first one wins. Entries are sorted case-insensitively.
func (fsys *FileSystem) ReadDir(name, pathID string) ([]os.FileInfo, error) {
	rel := cleanPath(name)
	root := isRoot(rel)
	if root {
		rel = ""
	}
	rel = strings.TrimPrefix(rel, string(filepath.Separator))

	seen := make(map[string]bool)
	var entries []os.FileInfo
	found := root

	add := func(info os.FileInfo) {
		// Skip if already seen in an earlier search path
		if seen[info.Name()] {
			return
		}
		seen[info.Name()] = true
		entries = append(entries, info)
	}

	for _, sp := range fsys.searchPaths {
		if !sp.matchesFilter(pathID) {
			continue
		}

		if sp.isArchive() {
			if !root && !sp.entries.HasDir(rel) {
				continue
			}
			found = true
			for _, info := range archiveChildren(sp, rel) {
				add(info)
			}
			continue
		}

		infos, err := afero.ReadDir(fsys.backend, joinPath(sp.location, rel))
		if err != nil {
			continue
		}
		found = true
		for _, info := range infos {
			add(info)
		}
	}

	if !found {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: os.ErrNotExist}
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})
	return entries, nil
}

// archiveChildren lists the immediate children of dir inside an archive.
func archiveChildren(sp *searchPath, dir string) []os.FileInfo {
	prefix := ""
	if dir != "" {
		prefix = dir + string(filepath.Separator)
	}

	var out []os.FileInfo
	dirs := make(map[string]bool)
	for _, name := range sp.entries.Names() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if i := strings.IndexRune(rest, filepath.Separator); i >= 0 {
			child := rest[:i]
			if !dirs[child] {
				dirs[child] = true
				out = append(out, &entryInfo{name: child, modTime: sp.modTime, dir: true})
			}
			continue
		}
		e, _ := sp.entries.Lookup(name)
		out = append(out, &entryInfo{name: rest, size: int64(e.Length), modTime: sp.modTime})
	}
	return out
}
