package config

import (
	"flag"
	"testing"
)

func parse(t *testing.T, wantMountDir bool, args []string) (Config, error) {
	t.Helper()
	fset := flag.NewFlagSet("test", flag.ContinueOnError)
	resolve := Flags(fset, wantMountDir)
	if err := fset.Parse(args); err != nil {
		t.Fatal(err)
	}
	return resolve()
}

func TestFlagsRequireStoragePath(t *testing.T) {
	t.Parallel()
	_, err := parse(t, true, []string{"-mount_dir=/mnt", "-size_MB=10"})
	if err == nil {
		t.Fatal("expected error for missing -storage_path")
	}
}

func TestFlagsRequireMountDirWhenWanted(t *testing.T) {
	t.Parallel()
	_, err := parse(t, true, []string{"-storage_path=/tmp/x", "-size_MB=10"})
	if err == nil {
		t.Fatal("expected error for missing -mount_dir")
	}
}

func TestFlagsSizeParsing(t *testing.T) {
	t.Parallel()
	cfg, err := parse(t, false, []string{"-storage_path=/tmp/x", "-size_MB=10"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SizeBytes != 10*megabyte {
		t.Errorf("SizeBytes = %d, want %d", cfg.SizeBytes, 10*megabyte)
	}
	if cfg.Grow {
		t.Error("Grow = true for a plain -size_MB")
	}
}

func TestFlagsSizeGrowPrefix(t *testing.T) {
	t.Parallel()
	cfg, err := parse(t, false, []string{"-storage_path=/tmp/x", "-size_MB=+20"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SizeBytes != 20*megabyte {
		t.Errorf("SizeBytes = %d, want %d", cfg.SizeBytes, 20*megabyte)
	}
	if !cfg.Grow {
		t.Error("Grow = false for a '+'-prefixed -size_MB")
	}
}

func TestFlagsSplitSizeDefaultsToZero(t *testing.T) {
	t.Parallel()
	cfg, err := parse(t, false, []string{"-storage_path=/tmp/x"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SplitSizeBytes != 0 {
		t.Errorf("SplitSizeBytes = %d, want 0", cfg.SplitSizeBytes)
	}
}
