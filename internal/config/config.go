// Package config loads packvfs mount tables.
//
// A mount table names the search paths to register, in priority order,
// along with the diagnostic threshold and stat cache settings. It is
// loaded from a single file specified by either the PACKVFS_CONFIG
// environment variable (via [Load]) or a --config flag (via [LoadFile]).
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas; everything else is read as YAML. Both use the same
// field names:
//
//	warning_level: usage
//	stat_cache:
//	  enabled: true
//	  ttl: 5m
//	search_paths:
//	  - path: ${HOME}/game/mods/custom
//	    path_id: GAME
//	  - path: /opt/game/base
//	    path_id: GAME
//	    read_only: true
//	  - path: /opt/game/base/pak0.pak
//	    path_id: GAME
//	    archive: true
//
// Environment variables in search path locations are expanded after
// loading.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/absfs/packvfs"
)

// EnvVar names the environment variable Load reads the config path from.
const EnvVar = "PACKVFS_CONFIG"

// Format is the syntax of a mount table file.
type Format int

const (
	// FormatYAML is YAML 1.2.
	FormatYAML Format = iota
	// FormatJSONC is JSON extended with comments and trailing commas.
	FormatJSONC
)

// FormatFromPath selects the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Config is a mount table.
type Config struct {
	// WarningLevel is the diagnostic threshold: critical, quiet,
	// unclosed, usage or all.
	// Default: quiet
	WarningLevel string `yaml:"warning_level"`

	// StatCache configures caching of physical path lookups.
	StatCache StatCacheConfig `yaml:"stat_cache"`

	// SearchPaths are registered in order; earlier entries win.
	SearchPaths []SearchPathConfig `yaml:"search_paths"`
}

// StatCacheConfig configures the stat cache.
type StatCacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// TTL is how long a resolved lookup is remembered.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// NegativeTTL is how long a failed lookup is remembered.
	// Default: half of TTL
	NegativeTTL time.Duration `yaml:"negative_ttl"`

	// MaxEntries bounds each of the positive and negative caches.
	// Default: 1000
	MaxEntries int `yaml:"max_entries"`
}

// SearchPathConfig is one entry of the mount table.
type SearchPathConfig struct {
	// Path is a directory, or a pack file when Archive is set.
	Path string `yaml:"path"`

	// PathID tags the search path. Empty means untagged.
	PathID string `yaml:"path_id"`

	// ReadOnly keeps writes out of a directory. Archives are always
	// read-only.
	ReadOnly bool `yaml:"read_only"`

	// Archive mounts Path as a pack file.
	Archive bool `yaml:"archive"`
}

// Default returns the configuration used before a file is applied.
func Default() *Config {
	return &Config{
		WarningLevel: packvfs.WarningQuiet.String(),
		StatCache: StatCacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
		},
	}
}

// Load loads the mount table named by the PACKVFS_CONFIG environment
// variable.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, errors.Newf(errors.CodeInvalidConfig,
			"%s environment variable not set; set it to the path of a mount table or use --config", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads and validates a mount table from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "reading %s", path)
	}

	cfg, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, errors.WithContext(err, "path", path)
	}
	return cfg, nil
}

// Parse decodes and validates a mount table.
func Parse(data []byte, format Format) (*Config, error) {
	if format == FormatJSONC {
		// JSON is valid YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "parsing mount table")
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVariables expands ${VAR} references in search path locations.
func (c *Config) expandVariables() {
	for i := range c.SearchPaths {
		c.SearchPaths[i].Path = os.ExpandEnv(c.SearchPaths[i].Path)
	}
}

// Validate checks the mount table for errors that would make Mount fail
// part way through.
func (c *Config) Validate() error {
	if _, ok := packvfs.ParseWarningLevel(c.WarningLevel); !ok {
		return errors.Newf(errors.CodeInvalidConfig, "unknown warning_level %q", c.WarningLevel)
	}

	if c.StatCache.TTL < 0 || c.StatCache.NegativeTTL < 0 {
		return errors.New(errors.CodeInvalidConfig, "stat_cache ttl must not be negative")
	}
	if c.StatCache.MaxEntries < 0 {
		return errors.New(errors.CodeInvalidConfig, "stat_cache max_entries must not be negative")
	}

	seen := make(map[string]int)
	for i, sp := range c.SearchPaths {
		if sp.Path == "" {
			return errors.Newf(errors.CodeInvalidConfig, "search_paths[%d]: path is empty", i)
		}
		if !sp.Archive && strings.Contains(strings.ToLower(sp.Path), ".bsp") {
			return errors.Newf(errors.CodeInvalidConfig, "search_paths[%d]: bsp files cannot be mounted", i)
		}

		key := strings.ToLower(filepath.Clean(sp.Path)) + "\x00" + sp.PathID
		if j, ok := seen[key]; ok {
			return errors.Newf(errors.CodeInvalidConfig, "search_paths[%d]: duplicates search_paths[%d]", i, j)
		}
		seen[key] = i
	}
	return nil
}

// Options returns the FileSystem options the mount table asks for.
func (c *Config) Options() []packvfs.Option {
	level, _ := packvfs.ParseWarningLevel(c.WarningLevel)
	opts := []packvfs.Option{packvfs.WithWarningLevel(level)}

	if c.StatCache.Enabled {
		negativeTTL := c.StatCache.NegativeTTL
		if negativeTTL == 0 {
			negativeTTL = c.StatCache.TTL / 2
		}
		opts = append(opts, packvfs.WithCacheConfig(true, c.StatCache.TTL, negativeTTL, c.StatCache.MaxEntries))
	}
	return opts
}

// Mount registers every search path with fsys in order. It stops at the
// first failure; search paths registered before it stay registered.
func (c *Config) Mount(fsys *packvfs.FileSystem) error {
	for i, sp := range c.SearchPaths {
		var err error
		if sp.Archive {
			err = fsys.AddPackFile(sp.Path, sp.PathID)
		} else {
			err = fsys.AddDirectory(sp.Path, sp.PathID, sp.ReadOnly)
		}
		if err != nil {
			return errors.WithContext(err, "search_path", i)
		}
	}
	return nil
}
