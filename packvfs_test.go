package packvfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/absfs/packvfs/pack"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/afero"
)

// newTestFS creates a FileSystem over an in-memory backend
func newTestFS(t *testing.T, opts ...Option) (*FileSystem, afero.Fs) {
	t.Helper()
	backend := afero.NewMemMapFs()
	fsys := New(append([]Option{WithBackend(backend)}, opts...)...)
	t.Cleanup(func() { fsys.Close() })
	return fsys, backend
}

// writeFile writes a file to the backend, creating parent directories
func writeFile(t *testing.T, fs afero.Fs, name, data string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", name, err)
	}
	if err := afero.WriteFile(fs, name, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// writePack builds a pack archive on the backend
func writePack(t *testing.T, fs afero.Fs, name string, kind pack.Kind, files map[string]string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", name, err)
	}
	f, err := fs.Create(name)
	if err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	defer f.Close()

	w, err := pack.NewWriter(f, kind)
	if err != nil {
		t.Fatalf("failed to start pack: %v", err)
	}

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := w.Add(n, strings.NewReader(files[n])); err != nil {
			t.Fatalf("failed to add %s: %v", n, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to finish pack: %v", err)
	}
}

// writeRawPack writes a PACK archive with one entry at a fixed offset.
// The body is filled with sequential bytes and followed by trailing data
// that no entry covers.
func writeRawPack(t *testing.T, fs afero.Fs, name, entry string, offset, length uint32) []byte {
	t.Helper()

	body := make([]byte, offset+length+36)
	copy(body, "PACK")
	for i := uint32(pack.HeaderSize); i < uint32(len(body)); i++ {
		body[i] = byte(i)
	}

	dirOffset := uint32(len(body))
	binary.LittleEndian.PutUint32(body[4:], dirOffset)
	binary.LittleEndian.PutUint32(body[8:], uint32(pack.Pack32.RecordSize()))

	record := make([]byte, pack.Pack32.RecordSize())
	copy(record, entry)
	binary.LittleEndian.PutUint32(record[pack.Pack32.NameSize():], offset)
	binary.LittleEndian.PutUint32(record[pack.Pack32.NameSize()+4:], length)
	body = append(body, record...)

	if err := afero.WriteFile(fs, name, body, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return body
}

// readString reads the rest of a handle
func readString(t *testing.T, h *Handle) string {
	t.Helper()
	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatalf("failed to read %s: %v", h.Name(), err)
	}
	return string(data)
}

// recorder collects warnings
type recorder struct {
	levels   []WarningLevel
	messages []string
}

func (r *recorder) warn(level WarningLevel, message string) {
	r.levels = append(r.levels, level)
	r.messages = append(r.messages, message)
}

func (r *recorder) contains(substr string) bool {
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func locations(fsys *FileSystem) []string {
	var out []string
	for _, sp := range fsys.SearchPaths() {
		out = append(out, sp.Location)
	}
	return out
}

// TestSearchPathOrder tests that resolution order is registration order
func TestSearchPathOrder(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/mods/custom/a.txt", "custom")
	writeFile(t, backend, "/base/a.txt", "base")
	writeFile(t, backend, "/base/b.txt", "only base")

	if err := fsys.AddSearchPath("/mods/custom", "GAME"); err != nil {
		t.Fatalf("failed to add search path: %v", err)
	}
	if err := fsys.AddSearchPathNoWrite("/base", "GAME"); err != nil {
		t.Fatalf("failed to add search path: %v", err)
	}

	h, err := fsys.Open("a.txt", "rb", "")
	if err != nil {
		t.Fatalf("failed to open a.txt: %v", err)
	}
	if got := readString(t, h); got != "custom" {
		t.Errorf("expected 'custom', got '%s'", got)
	}
	fsys.CloseFile(h)

	h, err = fsys.Open("b.txt", "rb", "GAME")
	if err != nil {
		t.Fatalf("failed to open b.txt: %v", err)
	}
	if got := readString(t, h); got != "only base" {
		t.Errorf("expected 'only base', got '%s'", got)
	}
	fsys.CloseFile(h)

	// Remove and re-add moves the search path to the end
	if !fsys.RemoveSearchPath("/MODS/CUSTOM") {
		t.Fatal("expected case-insensitive removal to succeed")
	}
	if err := fsys.AddSearchPath("/mods/custom", "GAME"); err != nil {
		t.Fatalf("failed to re-add search path: %v", err)
	}
	if got := locations(fsys); len(got) != 2 || got[0] != "/base" || got[1] != "/mods/custom" {
		t.Errorf("unexpected order after re-add: %v", got)
	}

	h, err = fsys.Open("a.txt", "rb", "")
	if err != nil {
		t.Fatalf("failed to open a.txt: %v", err)
	}
	if got := readString(t, h); got != "base" {
		t.Errorf("expected 'base' after re-add, got '%s'", got)
	}
	fsys.CloseFile(h)
}

func TestAddDirectoryErrors(t *testing.T) {
	fsys, _ := newTestFS(t)

	tests := []struct {
		name string
		path string
		code errors.ErrorCode
	}{
		{"empty", "", errors.CodeInvalidInput},
		{"bsp", "/maps/e1m1.BSP", errors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fsys.AddDirectory(tt.path, "", false)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.GetCode(err); got != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, got)
			}
			if n := len(fsys.SearchPaths()); n != 0 {
				t.Errorf("registry should be unchanged, has %d entries", n)
			}
		})
	}

	if err := fsys.AddDirectory("/base", "GAME", true); err != nil {
		t.Fatalf("failed to add search path: %v", err)
	}
	err := fsys.AddDirectory("/BASE", "GAME", false)
	if got := errors.GetCode(err); got != errors.CodeAlreadyExists {
		t.Errorf("expected ALREADY_EXISTS for duplicate, got %v", err)
	}

	// Same location with another tag is a separate search path
	if err := fsys.AddDirectory("/base", "MOD", false); err != nil {
		t.Errorf("different path ID should be accepted: %v", err)
	}
	if n := len(fsys.SearchPaths()); n != 2 {
		t.Errorf("expected 2 search paths, got %d", n)
	}
}

func TestRemoveSearchPath(t *testing.T) {
	fsys, backend := newTestFS(t)
	writePack(t, backend, "/base/pak0.pak", pack.Pack32, map[string]string{"a.txt": "a"})

	fsys.AddSearchPath("/base", "A")
	fsys.AddSearchPath("/base", "B")
	if err := fsys.AddPackFile("/base/pak0.pak", ""); err != nil {
		t.Fatalf("failed to add pack: %v", err)
	}

	if fsys.RemoveSearchPath("") {
		t.Error("empty path should not remove anything")
	}
	if fsys.RemoveSearchPath("/missing") {
		t.Error("unknown path should not remove anything")
	}

	// Only the first match goes, whatever its tag
	if !fsys.RemoveSearchPath("/base") {
		t.Fatal("expected removal")
	}
	infos := fsys.SearchPaths()
	if len(infos) != 2 || infos[0].PathID != "B" {
		t.Errorf("unexpected search paths after removal: %+v", infos)
	}

	fsys.RemoveAllSearchPaths()
	if n := len(fsys.SearchPaths()); n != 0 {
		t.Errorf("expected no search paths, got %d", n)
	}
	if fsys.FileExists("a.txt") {
		t.Error("archive entries should be gone with their search path")
	}
}

func TestAddPackFile(t *testing.T) {
	fsys, backend := newTestFS(t)
	rec := &recorder{}
	fsys.SetWarningFunc(rec.warn)

	writePack(t, backend, "/base/pak0.pak", pack.Pack32, map[string]string{
		"maps/e1m1.txt": "first map",
		"sound/hit.wav": "riff",
	})
	writePack(t, backend, "/base/pak1.pk64", pack.Pack64, map[string]string{
		"maps/e1m1.txt": "shadowed",
		"models/a.mdl":  "model",
	})
	writeFile(t, backend, "/base/notes.txt", "not a pack")

	if err := fsys.AddPackFile("/base/pak0.pak", "GAME"); err != nil {
		t.Fatalf("failed to add pak0: %v", err)
	}
	if err := fsys.AddPackFile("/base/pak1.pk64", "GAME"); err != nil {
		t.Fatalf("failed to add pak1: %v", err)
	}

	infos := fsys.SearchPaths()
	if len(infos) != 2 {
		t.Fatalf("expected 2 search paths, got %d", len(infos))
	}
	if !infos[0].Archive || !infos[0].ReadOnly || infos[0].Kind != pack.Pack32 || infos[0].Entries != 2 {
		t.Errorf("unexpected pak0 info: %+v", infos[0])
	}
	if infos[1].Kind != pack.Pack64 {
		t.Errorf("expected PK64 kind, got %s", infos[1].Kind)
	}

	tests := []struct {
		name string
		path string
		code errors.ErrorCode
	}{
		{"empty", "", errors.CodeInvalidInput},
		{"missing", "/base/nope.pak", errors.CodeNotFound},
		{"not an archive", "/base/notes.txt", pack.CodeNotAnArchive},
		{"duplicate", "/base/pak0.pak", errors.CodeAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pathID := ""
			if tt.name == "duplicate" {
				pathID = "GAME"
			}
			reports := len(rec.levels)
			err := fsys.AddPackFile(tt.path, pathID)
			if got := errors.GetCode(err); got != tt.code {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
			if len(rec.levels) != reports+1 || rec.levels[reports] != WarningCritical {
				t.Errorf("expected one critical report, got %v", rec.levels[reports:])
			}
			if n := len(fsys.SearchPaths()); n != 2 {
				t.Errorf("registry should be unchanged, has %d entries", n)
			}
		})
	}

	if !rec.contains("notes.txt") {
		t.Error("expected critical report for the invalid archive")
	}

	h, err := fsys.Open("maps/e1m1.txt", "rb", "GAME")
	if err != nil {
		t.Fatalf("failed to open archive entry: %v", err)
	}
	if got := readString(t, h); got != "first map" {
		t.Errorf("expected 'first map', got '%s'", got)
	}
	if !h.IsArchiveView() {
		t.Error("expected an archive view")
	}
	fsys.CloseFile(h)

	h, err = fsys.Open("models\\a.mdl", "r", "")
	if err != nil {
		t.Fatalf("backslash names should resolve: %v", err)
	}
	if got := readString(t, h); got != "model" {
		t.Errorf("expected 'model', got '%s'", got)
	}
	fsys.CloseFile(h)
}

func TestOpenWriteIntent(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/base/cfg.txt", "base")
	writePack(t, backend, "/base/pak0.pak", pack.Pack32, map[string]string{"cfg.txt": "packed"})
	backend.MkdirAll("/save", 0755)

	fsys.AddSearchPathNoWrite("/base", "")
	fsys.AddPackFile("/base/pak0.pak", "")
	fsys.AddSearchPath("/save", "")

	for _, mode := range []string{"w", "wb", "a", "r+", "w+b"} {
		t.Run(mode, func(t *testing.T) {
			h, err := fsys.Open("cfg.txt", mode, "")
			if err != nil {
				t.Fatalf("failed to open with %q: %v", mode, err)
			}
			defer fsys.CloseFile(h)

			if h.IsArchiveView() {
				t.Fatal("write intent selected an archive")
			}
			if h.Name() != filepath.Join("/save", "cfg.txt") {
				t.Errorf("write intent should land in /save, got %s", h.Name())
			}
		})
	}

	data, _ := afero.ReadFile(backend, "/base/cfg.txt")
	if string(data) != "base" {
		t.Errorf("read-only search path was modified: %q", data)
	}
}

func TestOpenErrors(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/base/dir/file.txt", "x")
	fsys.AddSearchPathNoWrite("/base", "GAME")

	tests := []struct {
		name    string
		file    string
		options string
		pathID  string
		code    errors.ErrorCode
	}{
		{"empty name", "", "r", "", errors.CodeInvalidInput},
		{"bad options", "dir/file.txt", "x", "", errors.CodeInvalidInput},
		{"bad modifier", "dir/file.txt", "rz", "", errors.CodeInvalidInput},
		{"missing", "nope.txt", "r", "", errors.CodeNotFound},
		{"directory", "dir", "r", "", errors.CodeNotFound},
		{"other path id", "dir/file.txt", "r", "MOD", errors.CodeNotFound},
		{"write to read-only", "dir/file.txt", "w", "", errors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := fsys.Open(tt.file, tt.options, tt.pathID)
			if h != nil {
				t.Error("expected nil handle")
			}
			if got := errors.GetCode(err); got != tt.code {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
	if n := fsys.OpenHandles(); n != 0 {
		t.Errorf("failed opens should not leave handles, got %d", n)
	}
}

func TestOpenFromCacheForRead(t *testing.T) {
	fsys, backend := newTestFS(t)
	rec := &recorder{}
	fsys.SetWarningFunc(rec.warn)

	writeFile(t, backend, "/base/a.txt", "plain")
	writePack(t, backend, "/base/pak0.pak", pack.Pack32, map[string]string{"a.txt": "packed"})
	fsys.AddSearchPath("/base", "")
	fsys.AddPackFile("/base/pak0.pak", "")

	h, err := fsys.OpenFromCacheForRead("a.txt", "rb", "")
	if err != nil {
		t.Fatalf("failed to open from cache: %v", err)
	}
	if got := readString(t, h); got != "packed" {
		t.Errorf("expected archive content, got '%s'", got)
	}
	fsys.CloseFile(h)

	h, err = fsys.OpenFromCacheForRead("a.txt", "w", "")
	if h != nil || errors.GetCode(err) != errors.CodeInvalidInput {
		t.Errorf("write intent should be rejected, got %v", err)
	}
	if len(rec.levels) == 0 || rec.levels[len(rec.levels)-1] != WarningCritical {
		t.Error("expected a critical report for write intent")
	}

	if _, err := fsys.OpenFromCacheForRead("missing.txt", "r", ""); errors.GetCode(err) != errors.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/mods/a.txt", "12345")
	writeFile(t, backend, "/base/a.txt", "1")
	writeFile(t, backend, "/base/sub/b.txt", "bb")
	writePack(t, backend, "/base/pak0.pak", pack.Pack32, map[string]string{
		"packed/only.txt": "packed",
	})

	fsys.AddSearchPath("/mods", "")
	fsys.AddSearchPathNoWrite("/base", "")
	fsys.AddPackFile("/base/pak0.pak", "")

	if !fsys.FileExists("a.txt") || !fsys.FileExists("sub/b.txt") || !fsys.FileExists("packed/only.txt") {
		t.Error("expected files to exist")
	}
	if fsys.FileExists("nope.txt") || fsys.FileExists("") {
		t.Error("unexpected file")
	}
	if !fsys.IsDirectory("sub") || !fsys.IsDirectory("packed") {
		t.Error("expected directories")
	}
	if fsys.IsDirectory("a.txt") || fsys.IsDirectory("packed/only.txt") {
		t.Error("files are not directories")
	}

	if got := fsys.SizeByName("a.txt"); got != 5 {
		t.Errorf("expected size 5 from /mods, got %d", got)
	}
	// Archive entries are not consulted by size and time queries
	if got := fsys.SizeByName("packed/only.txt"); got != 0 {
		t.Errorf("expected 0 for archive entry, got %d", got)
	}
	if got := fsys.FileTime("packed/only.txt"); got != 0 {
		t.Errorf("expected 0 for archive entry, got %d", got)
	}

	info, _ := backend.Stat("/mods/a.txt")
	if got := fsys.FileTime("a.txt"); got != info.ModTime().Unix() {
		t.Errorf("expected %d, got %d", info.ModTime().Unix(), got)
	}

	if p, ok := fsys.LocalPath("sub/b.txt"); !ok || p != filepath.Join("/base", "sub", "b.txt") {
		t.Errorf("unexpected local path %q %v", p, ok)
	}
	if _, ok := fsys.LocalPath("packed/only.txt"); ok {
		t.Error("archive entries have no local path")
	}
}

func TestFileTimeToString(t *testing.T) {
	got := FileTimeToString(0)
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("expected trailing newline, got %q", got)
	}
	if !strings.Contains(got, "1970") && !strings.Contains(got, "1969") {
		t.Errorf("expected the epoch year, got %q", got)
	}
}

func TestCreateDirHierarchy(t *testing.T) {
	fsys, backend := newTestFS(t)
	backend.MkdirAll("/base", 0755)
	backend.MkdirAll("/save", 0755)

	// No writable search path yet
	fsys.AddSearchPathNoWrite("/base", "GAME")
	fsys.CreateDirHierarchy("cfg/user", "GAME")
	if ok, _ := afero.DirExists(backend, "/base/cfg/user"); ok {
		t.Error("read-only search path should not be written")
	}

	// Falls back to a writable search path of another tag
	fsys.AddSearchPath("/save", "SAVE")
	fsys.CreateDirHierarchy("cfg/user", "GAME")
	if ok, _ := afero.DirExists(backend, "/save/cfg/user"); !ok {
		t.Error("expected directories in /save")
	}
	if !fsys.IsDirectory("cfg/user") {
		t.Error("new directory should be visible")
	}
}

func TestRemoveFile(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/base/a.txt", "base")
	writeFile(t, backend, "/save/a.txt", "save")
	writeFile(t, backend, "/other/a.txt", "other")

	fsys.AddSearchPathNoWrite("/base", "")
	fsys.AddSearchPath("/save", "")
	fsys.AddSearchPath("/other", "")

	fsys.RemoveFile("a.txt", "")
	if ok, _ := afero.Exists(backend, "/save/a.txt"); ok {
		t.Error("expected removal from the first writable search path")
	}
	if ok, _ := afero.Exists(backend, "/other/a.txt"); !ok {
		t.Error("removal should stop after the first success")
	}
	if ok, _ := afero.Exists(backend, "/base/a.txt"); !ok {
		t.Error("read-only search path should not be touched")
	}

	// Missing in /save is skipped silently
	fsys.RemoveFile("a.txt", "")
	if ok, _ := afero.Exists(backend, "/other/a.txt"); ok {
		t.Error("expected removal from /other")
	}
}

func TestWarningLevels(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/base/a.txt", "a")
	rec := &recorder{}
	fsys.SetWarningFunc(rec.warn)

	// Quiet lets only critical messages through
	fsys.AddSearchPath("/base", "")
	if len(rec.messages) != 0 {
		t.Errorf("expected no usage reports at quiet level, got %v", rec.messages)
	}
	fsys.Read(nil, make([]byte, 1))
	if !rec.contains("null file handle") || rec.levels[0] != WarningCritical {
		t.Errorf("expected critical null handle report, got %v", rec.messages)
	}

	rec.messages, rec.levels = nil, nil
	fsys.SetWarningLevel(WarningReportAllAccesses)
	if fsys.WarningLevel() != WarningReportAllAccesses {
		t.Fatal("warning level not set")
	}
	h, _ := fsys.Open("a.txt", "r", "")
	fsys.CloseFile(h)
	if !rec.contains("Opened file") || !rec.contains("Closing file") {
		t.Errorf("expected access reports, got %v", rec.messages)
	}

	// Unclosed handles are reported
	rec.messages, rec.levels = nil, nil
	fsys.SetWarningLevel(WarningReportUnclosed)
	h, _ = fsys.Open("a.txt", "r", "")
	fsys.PrintOpenedFiles()
	if !rec.contains("was never closed") {
		t.Errorf("expected unclosed report, got %v", rec.messages)
	}
	fsys.CloseFile(h)
}

func TestParseWarningLevel(t *testing.T) {
	for _, level := range []WarningLevel{WarningCritical, WarningQuiet, WarningReportUnclosed, WarningReportUsage, WarningReportAllAccesses} {
		got, ok := ParseWarningLevel(strings.ToUpper(level.String()))
		if !ok || got != level {
			t.Errorf("round trip of %s failed: %v %v", level, got, ok)
		}
	}
	if _, ok := ParseWarningLevel("loud"); ok {
		t.Error("unknown level should not parse")
	}
}

func TestDefaultWarningSink(t *testing.T) {
	var buf bytes.Buffer
	backend := afero.NewMemMapFs()
	fsys := New(WithBackend(backend), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	defer fsys.Close()

	fsys.Tell(nil)
	if !strings.Contains(buf.String(), "Tell: Attempted to tell null file handle!") {
		t.Errorf("expected report in log output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "component=packvfs") {
		t.Errorf("expected component attribute, got %q", buf.String())
	}
}

func TestClose(t *testing.T) {
	fsys, backend := newTestFS(t)
	writeFile(t, backend, "/base/a.txt", "a")
	writePack(t, backend, "/base/pak0.pak", pack.Pack32, map[string]string{"b.txt": "b"})
	fsys.AddSearchPath("/base", "")
	fsys.AddPackFile("/base/pak0.pak", "")

	h1, _ := fsys.Open("a.txt", "r", "")
	h2, _ := fsys.Open("b.txt", "r", "")
	_, fh := fsys.FindFirst("*", "")
	if fh == InvalidFindHandle {
		t.Fatal("expected a match")
	}

	if err := fsys.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if h1.IsOpen() || h2.IsOpen() {
		t.Error("handles should be closed")
	}
	if fsys.OpenHandles() != 0 || fsys.OpenFinds() != 0 || len(fsys.SearchPaths()) != 0 {
		t.Error("expected empty tables after close")
	}

	// Closing again is harmless
	if err := fsys.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestCurrentDirectory(t *testing.T) {
	fsys, _ := newTestFS(t)
	dir, ok := fsys.CurrentDirectory()
	if !ok || dir == "" {
		t.Error("expected the working directory")
	}
}
