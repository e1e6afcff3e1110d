package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/pflag"

	"github.com/absfs/packvfs"
	"github.com/absfs/packvfs/internal/config"
)

// mountOptions are the flags shared by every subcommand that reads the
// merged view.
type mountOptions struct {
	configPath   string
	paths        []string
	pathID       string
	warningLevel string
	verbose      bool
}

// AddFlags registers the shared flags on flagSet.
func (o *mountOptions) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "mount table file (default: $"+config.EnvVar+")")
	flagSet.StringArrayVarP(&o.paths, "path", "p", nil, "directory or pack file to mount after the mount table (repeatable)")
	flagSet.StringVar(&o.pathID, "path-id", "", "tag for --path entries; also restricts lookups")
	flagSet.StringVar(&o.warningLevel, "warnings", "", "warning level: critical, quiet, unclosed, usage or all")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config, then $PACKVFS_CONFIG, and falls back to an
// empty mount table.
func (o *mountOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFile(o.configPath)
	}
	if os.Getenv(config.EnvVar) != "" {
		return config.Load()
	}
	return config.Default(), nil
}

// open builds a FileSystem with every configured search path registered.
func (o *mountOptions) open(logger *slog.Logger) (*packvfs.FileSystem, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	opts := append(cfg.Options(), packvfs.WithLogger(logger))
	if o.warningLevel != "" {
		level, ok := packvfs.ParseWarningLevel(o.warningLevel)
		if !ok {
			return nil, errors.Newf(errors.CodeInvalidInput, "unknown warning level %q", o.warningLevel)
		}
		opts = append(opts, packvfs.WithWarningLevel(level))
	}

	fsys := packvfs.New(opts...)
	if err := cfg.Mount(fsys); err != nil {
		fsys.Close()
		return nil, err
	}

	for _, p := range o.paths {
		if err := addPath(fsys, p, o.pathID); err != nil {
			fsys.Close()
			return nil, err
		}
		logger.Debug("search path added", "path", p, "path_id", o.pathID)
	}

	if len(fsys.SearchPaths()) == 0 {
		fsys.Close()
		return nil, errors.New(errors.CodeInvalidInput, "no search paths; use --config or --path")
	}
	return fsys, nil
}

func addPath(fsys *packvfs.FileSystem, p, pathID string) error {
	info, err := os.Stat(p)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNotFound, "search path %s", p)
	}
	if info.Mode().IsRegular() {
		return fsys.AddPackFile(p, pathID)
	}
	return fsys.AddDirectory(p, pathID, true)
}
