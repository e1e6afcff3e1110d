// Package fusemount exports the merged view of a packvfs FileSystem as a
// read-only FUSE filesystem.
//
// Every node operation takes the export's mutex before touching the
// FileSystem, which is not safe for concurrent use on its own.
package fusemount

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sync"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/absfs/packvfs"
)

// FS is the FUSE view of a FileSystem. Lookups are scoped to pathID;
// an empty pathID shows every search path.
type FS struct {
	mu     sync.Mutex
	vfs    *packvfs.FileSystem
	pathID string
	uid    uint32
	gid    uint32
	logger *slog.Logger
}

var _ fusefs.FS = (*FS)(nil)

// New creates a FUSE view of vfs. Files are owned by the current user.
func New(vfs *packvfs.FileSystem, pathID string, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{
		vfs:    vfs,
		pathID: pathID,
		uid:    uint32(os.Getuid()),
		gid:    uint32(os.Getgid()),
		logger: logger.With("component", "fusemount"),
	}
}

// Root implements fusefs.FS.
func (f *FS) Root() (fusefs.Node, error) {
	return &Dir{fs: f, path: ""}, nil
}

func (f *FS) stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vfs.Stat(name, f.pathID)
}

// toErrno maps FileSystem errors to FUSE status codes.
func toErrno(err error) error {
	if os.IsNotExist(err) {
		return syscall.ENOENT
	}
	if os.IsPermission(err) {
		return syscall.EACCES
	}
	return syscall.EIO
}

func (f *FS) fillAttr(a *fuse.Attr, info os.FileInfo) {
	a.Uid = f.uid
	a.Gid = f.gid
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime()
	a.Ctime = info.ModTime()
	if info.IsDir() {
		a.Mode = os.ModeDir | 0555
		return
	}
	a.Mode = 0444
	a.Size = uint64(info.Size())
	a.BlockSize = 4096
	a.Blocks = (a.Size + 511) / 512
}

// Mount mounts fsys at mountpoint and serves requests until ctx is done
// or the filesystem is unmounted externally.
func Mount(ctx context.Context, mountpoint string, fsys *FS) error {
	c, err := fuse.Mount(mountpoint,
		fuse.FSName("packvfs"),
		fuse.Subtype("packvfs"),
		fuse.ReadOnly(),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- fusefs.Serve(c, fsys)
	}()
	fsys.logger.Info("filesystem mounted", "mountpoint", mountpoint)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		fsys.logger.Info("unmounting", "mountpoint", mountpoint)
		if err := fuse.Unmount(mountpoint); err != nil {
			return err
		}
		return <-errc
	}
}

// Dir is a directory of the merged view.
type Dir struct {
	fs   *FS
	path string
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
)

// Attr implements fusefs.Node.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	info, err := d.fs.stat(d.path)
	if err != nil {
		return toErrno(err)
	}
	d.fs.fillAttr(a, info)
	return nil
}

// Lookup implements fusefs.NodeStringLookuper.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	child := path.Join(d.path, name)
	info, err := d.fs.stat(child)
	if err != nil {
		return nil, toErrno(err)
	}
	if info.IsDir() {
		return &Dir{fs: d.fs, path: child}, nil
	}
	return &File{fs: d.fs, path: child}, nil
}

// ReadDirAll implements fusefs.HandleReadDirAller.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	d.fs.mu.Lock()
	infos, err := d.fs.vfs.ReadDir(d.path, d.fs.pathID)
	d.fs.mu.Unlock()
	if err != nil {
		return nil, toErrno(err)
	}

	entries := make([]fuse.Dirent, 0, len(infos))
	for _, info := range infos {
		typ := fuse.DT_File
		if info.IsDir() {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: info.Name(), Type: typ})
	}
	return entries, nil
}

// File is a file of the merged view, backed by a directory or an archive.
type File struct {
	fs   *FS
	path string
}

var (
	_ fusefs.Node       = (*File)(nil)
	_ fusefs.NodeOpener = (*File)(nil)
)

// Attr implements fusefs.Node.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	info, err := f.fs.stat(f.path)
	if err != nil {
		return toErrno(err)
	}
	f.fs.fillAttr(a, info)
	return nil
}

// Open implements fusefs.NodeOpener.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		f.fs.logger.Warn("rejected write access", "path", f.path)
		return nil, syscall.EROFS
	}

	f.fs.mu.Lock()
	h, err := f.fs.vfs.Open(f.path, "rb", f.fs.pathID)
	f.fs.mu.Unlock()
	if err != nil {
		f.fs.logger.Debug("open failed", "path", f.path, "error", err)
		return nil, syscall.ENOENT
	}

	f.fs.logger.Debug("opened", "path", f.path, "archive", h.IsArchiveView())
	return &FileHandle{fs: f.fs, h: h}, nil
}

// FileHandle is an open file. Reads are positional so several handles can
// share an archive stream.
type FileHandle struct {
	fs *FS
	h  *packvfs.Handle
}

var (
	_ fusefs.HandleReader   = (*FileHandle)(nil)
	_ fusefs.HandleReleaser = (*FileHandle)(nil)
)

// Read implements fusefs.HandleReader.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.fs.mu.Lock()
	defer fh.fs.mu.Unlock()

	if !fh.fs.vfs.Seek(fh.h, req.Offset, packvfs.SeekStart) {
		return syscall.EINVAL
	}
	buf := make([]byte, req.Size)
	n := fh.fs.vfs.Read(fh.h, buf)
	resp.Data = buf[:n]
	return nil
}

// Release implements fusefs.HandleReleaser.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.fs.mu.Lock()
	defer fh.fs.mu.Unlock()
	fh.fs.vfs.CloseFile(fh.h)
	return nil
}
