package packvfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// WarningLevel is the severity of a diagnostic. A message is emitted when
// its level is less than or equal to the configured threshold.
type WarningLevel int

const (
	// WarningCritical is used for misuse and corrupt data.
	WarningCritical WarningLevel = iota - 1
	// WarningQuiet emits only critical messages.
	WarningQuiet
	// WarningReportUnclosed reports handles that were never closed.
	WarningReportUnclosed
	// WarningReportUsage reports noteworthy usage.
	WarningReportUsage
	// WarningReportAllAccesses reports every open and close.
	WarningReportAllAccesses
)

var warningLevelNames = map[WarningLevel]string{
	WarningCritical:          "critical",
	WarningQuiet:             "quiet",
	WarningReportUnclosed:    "unclosed",
	WarningReportUsage:       "usage",
	WarningReportAllAccesses: "all",
}

// String returns the configuration name of the level.
func (l WarningLevel) String() string {
	if name, ok := warningLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseWarningLevel parses a level name as produced by String.
func ParseWarningLevel(name string) (WarningLevel, bool) {
	for level, n := range warningLevelNames {
		if strings.EqualFold(n, name) {
			return level, true
		}
	}
	return WarningQuiet, false
}

// WarningFunc receives every diagnostic that passes the level threshold.
type WarningFunc func(level WarningLevel, message string)

// FileSystem is a layered virtual filesystem over an ordered list of
// search paths. It is not safe for concurrent use; callers serialize
// access to a single instance.
type FileSystem struct {
	backend     afero.Fs
	searchPaths []*searchPath // resolution order
	openFiles   []*Handle
	finds       []*findCursor
	cache       *Cache

	logger       *slog.Logger
	warningFunc  WarningFunc
	warningLevel WarningLevel
}

// Option is a functional option for configuring FileSystem
type Option func(*FileSystem)

// WithBackend sets the filesystem that search path locations live on.
// The default is the host filesystem.
func WithBackend(fs afero.Fs) Option {
	return func(fsys *FileSystem) {
		fsys.backend = fs
	}
}

// WithLogger sets the logger used by the default warning sink.
func WithLogger(logger *slog.Logger) Option {
	return func(fsys *FileSystem) {
		fsys.logger = logger
	}
}

// WithWarningFunc installs a custom warning sink.
func WithWarningFunc(fn WarningFunc) Option {
	return func(fsys *FileSystem) {
		fsys.warningFunc = fn
	}
}

// WithWarningLevel sets the diagnostic threshold.
func WithWarningLevel(level WarningLevel) Option {
	return func(fsys *FileSystem) {
		fsys.warningLevel = level
	}
}

// WithStatCache enables caching of physical path lookups with the specified TTL
func WithStatCache(enabled bool, ttl time.Duration) Option {
	return func(fsys *FileSystem) {
		negativeTTL := ttl / 2 // Negative cache expires faster
		maxEntries := 1000
		fsys.cache = newCache(enabled, ttl, negativeTTL, maxEntries)
	}
}

// WithCacheConfig enables caching with custom configuration
func WithCacheConfig(enabled bool, statTTL, negativeTTL time.Duration, maxEntries int) Option {
	return func(fsys *FileSystem) {
		fsys.cache = newCache(enabled, statTTL, negativeTTL, maxEntries)
	}
}

// New creates a FileSystem with no search paths.
func New(opts ...Option) *FileSystem {
	fsys := &FileSystem{
		backend:      afero.NewOsFs(),
		cache:        newCache(false, 0, 0, 0), // disabled by default
		warningLevel: WarningQuiet,
	}
	for _, opt := range opts {
		opt(fsys)
	}
	if fsys.logger == nil {
		fsys.logger = slog.Default()
	}
	fsys.logger = fsys.logger.With("component", "packvfs")
	return fsys
}

// Name returns the name of the filesystem
func (fsys *FileSystem) Name() string {
	return "packvfs"
}

// Backend returns the filesystem search path locations are resolved on.
func (fsys *FileSystem) Backend() afero.Fs {
	return fsys.backend
}

// SetWarningFunc replaces the warning sink. A nil function restores the
// default logger-backed sink.
func (fsys *FileSystem) SetWarningFunc(fn WarningFunc) {
	fsys.warningFunc = fn
}

// SetWarningLevel sets the diagnostic threshold.
func (fsys *FileSystem) SetWarningLevel(level WarningLevel) {
	fsys.warningLevel = level
}

// WarningLevel returns the diagnostic threshold.
func (fsys *FileSystem) WarningLevel() WarningLevel {
	return fsys.warningLevel
}

// warn emits a diagnostic if level passes the threshold.
func (fsys *FileSystem) warn(level WarningLevel, format string, args ...any) {
	if level > fsys.warningLevel {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if fsys.warningFunc != nil {
		fsys.warningFunc(level, msg)
		return
	}

	slogLevel := slog.LevelDebug
	switch level {
	case WarningCritical:
		slogLevel = slog.LevelError
	case WarningQuiet, WarningReportUnclosed:
		slogLevel = slog.LevelWarn
	case WarningReportUsage:
		slogLevel = slog.LevelInfo
	}
	fsys.logger.Log(context.Background(), slogLevel, msg, "level", level.String())
}

// PrintOpenedFiles reports every handle that is still open.
func (fsys *FileSystem) PrintOpenedFiles() {
	for _, h := range fsys.openFiles {
		name := h.name
		if name == "" {
			name = "???"
		}
		fsys.warn(WarningReportUnclosed, "File %s was never closed", name)
	}
}

// OpenHandles returns the number of handles that are currently open.
func (fsys *FileSystem) OpenHandles() int {
	return len(fsys.openFiles)
}

// Close reports and closes every open handle and removes all search paths.
func (fsys *FileSystem) Close() error {
	fsys.PrintOpenedFiles()
	for len(fsys.openFiles) > 0 {
		fsys.CloseFile(fsys.openFiles[len(fsys.openFiles)-1])
	}
	for i := range fsys.finds {
		fsys.finds[i] = nil
	}
	fsys.finds = nil
	fsys.RemoveAllSearchPaths()
	return nil
}

// CurrentDirectory returns the process working directory.
func (fsys *FileSystem) CurrentDirectory() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	return dir, true
}

// cleanPath normalizes a location or relative name to platform separators.
func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(filepath.FromSlash(strings.ReplaceAll(p, "\\", "/")))
}

// joinPath joins a search path location with a relative name.
func joinPath(location, name string) string {
	return filepath.Join(location, cleanPath(name))
}
