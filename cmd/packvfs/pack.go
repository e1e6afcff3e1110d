package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	"github.com/absfs/packvfs/pack"
)

func runPack(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: packvfs pack <create|list> [flags]")
	}
	switch args[0] {
	case "create":
		return runPackCreate(args[1:], stdout, stderr)
	case "list":
		return runPackList(args[1:], stdout, stderr)
	default:
		return fmt.Errorf("unknown pack subcommand: %q", args[0])
	}
}

// runPackCreate builds an archive from local files. Entry names are the
// file paths relative to --directory.
func runPackCreate(args []string, stdout, stderr io.Writer) error {
	var (
		directory string
		pack64    bool
		verbose   bool
	)
	flagSet := pflag.NewFlagSet("pack create", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&directory, "directory", "C", ".", "directory entry names are relative to")
	flagSet.BoolVar(&pack64, "pack64", false, "write the wide PK64 layout")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every entry")
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}
	if flagSet.NArg() < 2 {
		return fmt.Errorf("usage: packvfs pack create [flags] <archive> <path>...")
	}
	logger := newLogger(stderr, verbose)

	kind := pack.Pack32
	if pack64 {
		kind = pack.Pack64
	}

	archivePath := flagSet.Arg(0)
	out, err := os.Create(archivePath)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "creating %s", archivePath)
	}

	entries, err := writeArchive(out, kind, directory, flagSet.Args()[1:], func(name string, size int64) {
		logger.Debug("added entry", "name", name, "size", size)
	})
	if cerr := out.Close(); err == nil && cerr != nil {
		err = errors.Wrapf(cerr, errors.CodeInternal, "closing %s", archivePath)
	}
	if err != nil {
		os.Remove(archivePath)
		return err
	}

	fmt.Fprintf(stdout, "%s: %d entries (%s)\n", archivePath, entries, kind)
	return nil
}

// writeArchive adds every regular file under paths, resolved against
// directory, to a new archive on out.
func writeArchive(out io.WriteSeeker, kind pack.Kind, directory string, paths []string, added func(string, int64)) (int, error) {
	w, err := pack.NewWriter(out, kind)
	if err != nil {
		return 0, err
	}

	for _, p := range paths {
		root := filepath.Join(directory, p)
		err := filepath.WalkDir(root, func(full string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			name, err := filepath.Rel(directory, full)
			if err != nil {
				return err
			}
			return addFile(w, name, full, added)
		})
		if err != nil {
			return 0, errors.WithContext(err, "path", root)
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}
	return len(w.Entries()), nil
}

func addFile(w *pack.Writer, name, full string, added func(string, int64)) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.Add(name, f); err != nil {
		return err
	}
	entries := w.Entries()
	added(entries[len(entries)-1].Name, int64(entries[len(entries)-1].Length))
	return nil
}

// runPackList prints the directory of an archive.
func runPackList(args []string, stdout, stderr io.Writer) error {
	var withHash bool
	flagSet := pflag.NewFlagSet("pack list", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&withHash, "hash", false, "print the BLAKE3 digest of every entry")
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: packvfs pack list [flags] <archive>")
	}

	archivePath := flagSet.Arg(0)
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNotFound, "opening %s", archivePath)
	}
	defer f.Close()

	kind, dir, err := pack.ReadDirectory(f)
	if err != nil {
		return errors.WithContext(err, "archive", archivePath)
	}

	fmt.Fprintf(stdout, "%s: %d entries (%s)\n", archivePath, dir.Len(), kind)
	for _, name := range dir.Names() {
		e := dir[name]
		line := fmt.Sprintf("%10d %10d  %s", e.Offset, e.Length, filepath.ToSlash(name))
		if withHash {
			digest, err := hashEntry(f, e)
			if err != nil {
				return errors.WithContext(err, "entry", name)
			}
			line = digest + "  " + line
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

// hashEntry returns the hex BLAKE3 digest of an entry's body.
func hashEntry(r io.ReaderAt, e pack.Entry) (string, error) {
	h := blake3.New()
	n, err := io.Copy(h, io.NewSectionReader(r, int64(e.Offset), int64(e.Length)))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "reading entry")
	}
	if n != int64(e.Length) {
		return "", errors.Newf(pack.CodeTruncatedArchive, "entry is %d bytes short", int64(e.Length)-n)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
