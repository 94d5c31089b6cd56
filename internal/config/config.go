// Package config parses and validates the command-line configuration shared
// by the sparsevol daemon and its control CLI.
package config

import (
	"flag"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

const megabyte = 1 << 20

// Config is the resolved, validated configuration for one store.
type Config struct {
	// StoragePath is the base path shards are named from.
	StoragePath string

	// MountDir is where the virtual file is FUSE-mounted. Empty for
	// sparsevolctl, which never mounts anything.
	MountDir string

	// SizeBytes is the requested virtual size, or 0 if unspecified
	// (valid only when the store already exists).
	SizeBytes int64

	// Grow is true when -size_MB was given with a leading '+'. It is
	// informational only: store.Open grows an existing store to SizeBytes
	// whether or not the '+' was given, and never shrinks it.
	Grow bool

	// SplitSizeBytes is the requested per-shard capacity, or 0 for none: a
	// new store is then not split, and an existing store keeps its
	// persisted split size.
	SplitSizeBytes int64

	// Debug enables verbose error formatting and FUSE debug logging.
	Debug bool
}

// Flags registers the standard set of storage flags on fset and returns a
// function that resolves them into a Config once fset.Parse has run.
// wantMountDir selects whether a -mount_dir flag is registered at all;
// sparsevolctl has no mountpoint and passes false.
func Flags(fset *flag.FlagSet, wantMountDir bool) func() (Config, error) {
	storagePath := fset.String("storage_path", "", "path to the storage file (or prefix, when splitting)")
	sizeMB := fset.String("size_MB", "", "virtual size in MiB; prefix with '+' to grow an existing store")
	splitSizeMB := fset.Int64("split_size_MB", 0, "per-shard capacity in MiB; 0 creates an unsplit store or keeps an existing store's split")
	debug := fset.Bool("debug", false, "enable debug mode: format error messages with additional detail, verbose FUSE logging")

	var mountDir *string
	if wantMountDir {
		mountDir = fset.String("mount_dir", "", "directory to mount the virtual file under")
	}

	return func() (Config, error) {
		cfg := Config{
			StoragePath:    *storagePath,
			SplitSizeBytes: *splitSizeMB * megabyte,
			Debug:          *debug,
		}
		if mountDir != nil {
			cfg.MountDir = *mountDir
		}

		if cfg.StoragePath == "" {
			return Config{}, xerrors.New("config: -storage_path is required")
		}

		if *sizeMB != "" {
			s := *sizeMB
			if strings.HasPrefix(s, "+") {
				cfg.Grow = true
				s = s[1:]
			}
			mb, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Config{}, xerrors.Errorf("config: parsing -size_MB=%q: %w", *sizeMB, err)
			}
			if mb <= 0 {
				return Config{}, xerrors.New("config: -size_MB must be positive")
			}
			cfg.SizeBytes = mb * megabyte
		}

		if wantMountDir && cfg.MountDir == "" {
			return Config{}, xerrors.New("config: -mount_dir is required")
		}

		return cfg, nil
	}
}
