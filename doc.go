/*
Package packvfs provides a layered virtual filesystem that resolves logical
paths against an ordered list of search paths. A search path is either a
directory on a backend filesystem or a pack archive, a flat container file
with a fixed-layout directory of named byte ranges.

# Overview

Programs that ship content in several places (a base install, a mod
directory, a handful of archives) want to open "sound/hit.wav" without
knowing where it lives. A FileSystem holds the search paths in the order
they were added and answers every lookup from the first one that has the
file.

# Key Features

  - Ordered search paths with read-only and writable directories
  - Pack archives (PACK and PK64) mounted as read-only search paths
  - Path IDs to scope a lookup to a group of search paths
  - One Handle type over both backend files and archive entries
  - Wildcard enumeration across every search path
  - Merged directory listings (Stat, ReadDir)
  - Optional stat cache for physical lookups
  - Any afero.Fs or absfs.FileSystem as the backend

# Basic Usage

	fsys := packvfs.New()
	defer fsys.Close()

	fsys.AddSearchPath("/game/mods/custom", "GAME")
	fsys.AddSearchPathNoWrite("/game/base", "GAME")
	fsys.AddPackFile("/game/base/pak0.pak", "GAME")

	h, err := fsys.Open("maps/e1m1.bsp", "rb", "GAME")
	if err != nil {
	    return err
	}
	defer fsys.CloseFile(h)

	data, err := io.ReadAll(h)

# Resolution

Search paths are consulted in the order they were added. A lookup with a
non-empty path ID only considers search paths carrying exactly that ID; an
empty path ID considers all of them. Opening with write intent ("w", "a" or
any mode with "+") skips read-only directories and archives, so writes
always land in the first writable directory.

SizeByName, FileTime and LocalPath only look at directories. FileExists,
IsDirectory, Stat and ReadDir include archive entries.

# Archive Entries

A handle opened from an archive is a window into the archive file, which is
opened once when the archive is added and shared by every handle into it.
Seek, Tell, Size, Read and ReadLine all work relative to the window and
never read past its end. Archive entries cannot be written.

# Wildcards

FindFirst, FindNext and FindClose walk every search path in order. In a
pattern "*" matches any sequence of characters, including separators, and
everything else matches literally. A pattern matches when it matches either
the full path or the path relative to the search path:

	name, h := fsys.FindFirst("*.txt", "")
	for h != packvfs.InvalidFindHandle {
	    fmt.Println(name)
	    var ok bool
	    if name, ok = fsys.FindNext(h); !ok {
	        break
	    }
	}
	fsys.FindClose(h)

# Diagnostics

Misuse such as reading from a closed handle is reported, not returned. A
report is emitted when its WarningLevel is at or below the threshold set
with SetWarningLevel; the default threshold only lets critical reports
through. Reports go to a log/slog logger unless SetWarningFunc installs a
custom sink.

# Thread Safety

A FileSystem is not safe for concurrent use. Callers that share one across
goroutines must serialize access; the FUSE export in this module does so
with a mutex.
*/
package packvfs
