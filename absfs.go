package packvfs

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/absfs/absfs"
	"github.com/spf13/afero"
)

// absFSBackend lets an absfs.FileSystem hold search path locations.
type absFSBackend struct {
	fs absfs.FileSystem
}

// Ensure absFSBackend implements afero.Fs interface at compile time
var _ afero.Fs = (*absFSBackend)(nil)

// AbsFSBackend returns an afero.Fs view of an absfs.FileSystem so that it
// can be passed to WithBackend.
//
// Example:
//
//	mfs, _ := memfs.NewFS()
//	fsys := packvfs.New(packvfs.WithBackend(packvfs.AbsFSBackend(mfs)))
//	fsys.AddSearchPath("/game", "GAME")
func AbsFSBackend(fs absfs.FileSystem) afero.Fs {
	return &absFSBackend{fs: fs}
}

// Create implements afero.Fs
func (a *absFSBackend) Create(name string) (afero.File, error) {
	f, err := a.fs.Create(toSlash(name))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Mkdir implements afero.Fs
func (a *absFSBackend) Mkdir(name string, perm os.FileMode) error {
	return a.fs.Mkdir(toSlash(name), perm)
}

// MkdirAll implements afero.Fs
func (a *absFSBackend) MkdirAll(path string, perm os.FileMode) error {
	return a.fs.MkdirAll(toSlash(path), perm)
}

// Open implements afero.Fs
func (a *absFSBackend) Open(name string) (afero.File, error) {
	f, err := a.fs.Open(toSlash(name))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile implements afero.Fs
func (a *absFSBackend) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := a.fs.OpenFile(toSlash(name), flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Remove implements afero.Fs
func (a *absFSBackend) Remove(name string) error {
	return a.fs.Remove(toSlash(name))
}

// RemoveAll implements afero.Fs
func (a *absFSBackend) RemoveAll(path string) error {
	return a.fs.RemoveAll(toSlash(path))
}

// Rename implements afero.Fs
func (a *absFSBackend) Rename(oldname, newname string) error {
	return a.fs.Rename(toSlash(oldname), toSlash(newname))
}

// Stat implements afero.Fs
func (a *absFSBackend) Stat(name string) (os.FileInfo, error) {
	return a.fs.Stat(toSlash(name))
}

// Name implements afero.Fs
func (a *absFSBackend) Name() string {
	return "absfs"
}

// Chmod implements afero.Fs
func (a *absFSBackend) Chmod(name string, mode os.FileMode) error {
	return a.fs.Chmod(toSlash(name), mode)
}

// Chown implements afero.Fs
func (a *absFSBackend) Chown(name string, uid, gid int) error {
	return a.fs.Chown(toSlash(name), uid, gid)
}

// Chtimes implements afero.Fs
func (a *absFSBackend) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return a.fs.Chtimes(toSlash(name), atime, mtime)
}

// toSlash converts a backend path to the rooted forward slash form absfs
// uses.
func toSlash(name string) string {
	name = filepath.ToSlash(cleanPath(name))
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}
