package packvfs

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/absfs/packvfs/pack"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/afero"
)

// searchPathFlag describes the policy of a search path.
type searchPathFlag uint8

const (
	flagReadOnly searchPathFlag = 1 << iota
	flagArchive
)

// searchPath is one mounted location.
type searchPath struct {
	location string
	pathID   string
	flags    searchPathFlag

	// Archive search paths only. The stream is owned here and shared by
	// every view opened into the archive.
	kind    pack.Kind
	entries pack.Directory
	stream  afero.File
	modTime time.Time
}

func (sp *searchPath) readOnly() bool {
	return sp.flags&flagReadOnly != 0
}

func (sp *searchPath) isArchive() bool {
	return sp.flags&flagArchive != 0
}

// matchesFilter reports whether sp is considered by a lookup scoped to
// pathID. An empty pathID matches every search path.
func (sp *searchPath) matchesFilter(pathID string) bool {
	return pathID == "" || sp.pathID == pathID
}

func (sp *searchPath) close() {
	if sp.stream != nil {
		sp.stream.Close()
		sp.stream = nil
	}
}

// SearchPathInfo describes a registered search path.
type SearchPathInfo struct {
	Location string
	PathID   string
	ReadOnly bool
	Archive  bool
	Kind     pack.Kind
	Entries  int
}

// SearchPaths returns the registered search paths in resolution order.
func (fsys *FileSystem) SearchPaths() []SearchPathInfo {
	out := make([]SearchPathInfo, 0, len(fsys.searchPaths))
	for _, sp := range fsys.searchPaths {
		out = append(out, SearchPathInfo{
			Location: sp.location,
			PathID:   sp.pathID,
			ReadOnly: sp.readOnly(),
			Archive:  sp.isArchive(),
			Kind:     sp.kind,
			Entries:  sp.entries.Len(),
		})
	}
	return out
}

// findSearchPath returns the index of the first search path whose location
// matches path case-insensitively. When checkPathID is set the tags must be
// equal as well.
func (fsys *FileSystem) findSearchPath(path string, checkPathID bool, pathID string) int {
	for i, sp := range fsys.searchPaths {
		if !strings.EqualFold(path, sp.location) {
			continue
		}
		if !checkPathID || sp.pathID == pathID {
			return i
		}
	}
	return -1
}

// AddSearchPath mounts a writable directory at the lowest priority.
func (fsys *FileSystem) AddSearchPath(path, pathID string) error {
	return fsys.AddDirectory(path, pathID, false)
}

// AddSearchPathNoWrite mounts a read-only directory at the lowest priority.
func (fsys *FileSystem) AddSearchPathNoWrite(path, pathID string) error {
	return fsys.AddDirectory(path, pathID, true)
}

// AddDirectory mounts a directory at the lowest priority.
func (fsys *FileSystem) AddDirectory(path, pathID string, readOnly bool) error {
	if path == "" {
		return errors.New(errors.CodeInvalidInput, "search path is empty")
	}

	// Map files are containers but cannot be mounted as search paths.
	if strings.Contains(strings.ToLower(path), ".bsp") {
		return errors.WithContext(
			errors.New(errors.CodeInvalidInput, "bsp files cannot be mounted as search paths"),
			"path", path)
	}

	location := cleanPath(path)
	if fsys.findSearchPath(location, true, pathID) >= 0 {
		return errors.WithContext(
			errors.Newf(errors.CodeAlreadyExists, "search path %q already registered", location),
			"path_id", pathID)
	}

	sp := &searchPath{location: location, pathID: pathID}
	if readOnly {
		sp.flags |= flagReadOnly
	}
	fsys.searchPaths = append(fsys.searchPaths, sp)
	fsys.cache.clear()

	fsys.warn(WarningReportUsage, "Added search path \"%s\" (%s)", location, pathID)
	return nil
}

// AddPackFile mounts a pack archive at the lowest priority. The archive is
// opened once and kept open until its search path is removed.
func (fsys *FileSystem) AddPackFile(path, pathID string) error {
	if path == "" {
		fsys.warn(WarningCritical, "AddPackFile: empty path")
		return errors.New(errors.CodeInvalidInput, "pack file path is empty")
	}

	location := cleanPath(path)
	if fsys.findSearchPath(location, true, pathID) >= 0 {
		fsys.warn(WarningCritical, "AddPackFile: \"%s\" is already mounted", location)
		return errors.Newf(errors.CodeAlreadyExists, "pack file %q already registered", location)
	}

	f, err := fsys.backend.Open(location)
	if err != nil {
		fsys.warn(WarningCritical, "AddPackFile: couldn't open \"%s\": %v", location, err)
		return errors.Wrapf(err, errors.CodeNotFound, "couldn't open pack file %q", location)
	}

	kind, entries, err := pack.ReadDirectory(f)
	if err != nil {
		f.Close()
		fsys.warn(WarningCritical, "AddPackFile: \"%s\": %v", location, err)
		return errors.WithContext(err, "path", location)
	}

	sp := &searchPath{
		location: location,
		pathID:   pathID,
		flags:    flagReadOnly | flagArchive,
		kind:     kind,
		entries:  entries,
		stream:   f,
	}
	if info, err := f.Stat(); err == nil {
		sp.modTime = info.ModTime()
	}

	fsys.searchPaths = append(fsys.searchPaths, sp)
	fsys.cache.clear()

	fsys.warn(WarningReportUsage, "Added %s pack file \"%s\" with %d entries", kind, location, entries.Len())
	return nil
}

// RemoveSearchPath removes the first search path whose location matches
// path, regardless of its path ID.
func (fsys *FileSystem) RemoveSearchPath(path string) bool {
	if path == "" {
		return false
	}

	i := fsys.findSearchPath(cleanPath(path), false, "")
	if i < 0 {
		return false
	}

	fsys.searchPaths[i].close()
	fsys.searchPaths = append(fsys.searchPaths[:i], fsys.searchPaths[i+1:]...)
	fsys.cache.clear()
	return true
}

// RemoveAllSearchPaths removes every search path.
func (fsys *FileSystem) RemoveAllSearchPaths() {
	for _, sp := range fsys.searchPaths {
		sp.close()
	}
	fsys.searchPaths = nil
	fsys.cache.clear()
}

// relativeTo returns name relative to a search path location.
func relativeTo(location, name string) string {
	rel, err := filepath.Rel(location, name)
	if err != nil {
		return name
	}
	return rel
}
