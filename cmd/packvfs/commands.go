package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/pflag"

	"github.com/absfs/packvfs"
	"github.com/absfs/packvfs/internal/fusemount"
)

// runList prints the merged contents of a directory.
func runList(args []string, stdout, stderr io.Writer) error {
	var opts mountOptions
	flagSet := pflag.NewFlagSet("ls", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}

	dir := "/"
	switch flagSet.NArg() {
	case 0:
	case 1:
		dir = flagSet.Arg(0)
	default:
		return fmt.Errorf("usage: packvfs ls [flags] [dir]")
	}

	fsys, err := opts.open(newLogger(stderr, opts.verbose))
	if err != nil {
		return err
	}
	defer fsys.Close()

	infos, err := fsys.ReadDir(dir, opts.pathID)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNotFound, "listing %s", dir)
	}
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() {
			name += "/"
		}
		fmt.Fprintf(stdout, "%s %10d %s %s\n",
			info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04"), name)
	}
	return nil
}

// runCat copies files from the merged view to stdout.
func runCat(args []string, stdout, stderr io.Writer) error {
	var opts mountOptions
	flagSet := pflag.NewFlagSet("cat", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		return fmt.Errorf("usage: packvfs cat [flags] <name>...")
	}

	fsys, err := opts.open(newLogger(stderr, opts.verbose))
	if err != nil {
		return err
	}
	defer fsys.Close()

	for _, name := range flagSet.Args() {
		h, err := fsys.Open(name, "rb", opts.pathID)
		if err != nil {
			return err
		}
		_, err = io.Copy(stdout, h)
		fsys.CloseFile(h)
		if err != nil {
			return errors.Wrapf(err, errors.CodeInternal, "reading %s", name)
		}
	}
	return nil
}

// runFind prints every name matching a wildcard.
func runFind(args []string, stdout, stderr io.Writer) error {
	var opts mountOptions
	flagSet := pflag.NewFlagSet("find", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: packvfs find [flags] <pattern>")
	}

	fsys, err := opts.open(newLogger(stderr, opts.verbose))
	if err != nil {
		return err
	}
	defer fsys.Close()

	name, handle := fsys.FindFirst(flagSet.Arg(0), opts.pathID)
	if handle == packvfs.InvalidFindHandle {
		return nil
	}
	defer fsys.FindClose(handle)

	for ok := true; ok; name, ok = fsys.FindNext(handle) {
		if fsys.FindIsDirectory(handle) {
			name += string(filepath.Separator)
		}
		fmt.Fprintln(stdout, name)
	}
	return nil
}

// runStat describes where a name resolves.
func runStat(args []string, stdout, stderr io.Writer) error {
	var opts mountOptions
	flagSet := pflag.NewFlagSet("stat", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: packvfs stat [flags] <name>")
	}
	name := flagSet.Arg(0)

	fsys, err := opts.open(newLogger(stderr, opts.verbose))
	if err != nil {
		return err
	}
	defer fsys.Close()

	info, err := fsys.Stat(name, opts.pathID)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNotFound, "stat %s", name)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	fmt.Fprintf(stdout, "name: %s\ntype: %s\nsize: %d\n", name, kind, info.Size())

	// LocalPath and FileTime only see directory search paths.
	if local, ok := fsys.LocalPath(name); ok {
		fmt.Fprintf(stdout, "modified: %s", packvfs.FileTimeToString(fsys.FileTime(name)))
		fmt.Fprintf(stdout, "local: %s\n", local)
		return nil
	}
	fmt.Fprintf(stdout, "modified: %s\n", info.ModTime().Format(time.ANSIC))
	fmt.Fprintf(stdout, "local: (archive)\n")
	return nil
}

// runMount serves the merged view over FUSE until interrupted.
func runMount(args []string, stdout, stderr io.Writer) error {
	var opts mountOptions
	flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	if done, err := parseFlags(flagSet, args, stdout); done || err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: packvfs mount [flags] <mountpoint>")
	}

	mountpoint, err := filepath.Abs(flagSet.Arg(0))
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "resolving mountpoint")
	}
	if info, err := os.Stat(mountpoint); err != nil || !info.IsDir() {
		return errors.Newf(errors.CodeInvalidInput, "mountpoint %s is not a directory", mountpoint)
	}

	logger := newLogger(stderr, opts.verbose)
	fsys, err := opts.open(logger)
	if err != nil {
		return err
	}
	defer fsys.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fusemount.Mount(ctx, mountpoint, fusemount.New(fsys, opts.pathID, logger))
}
