package store

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/xerrors"
)

// banner is the fixed ASCII text written at offset 0 of every shard file,
// ahead of the binary metadata record. It exists purely for a human running
// `file` or a hex dump to recognize the format; nothing parses it back.
const banner = "SPARSEVOL-BLOCKSTORE"

// metadataOffset is B/2: where the binary metadata record begins, leaving
// room for the banner without the two ever colliding regardless of B.
const metadataOffset = BlockSize / 2

// metadataSize is the three little-endian uint64 fields that make up the
// metadata record: format_version, split_size, virtual_size.
const metadataSize = 24

// shard is one backing file: its open handle, its mapped header+index
// region, and the bookkeeping needed to append new data blocks.
type shard struct {
	path string
	file *os.File

	mapped []byte // mmap of [0, headerSize(splitSize))

	formatVersion  int64
	splitSize      int64
	virtualSize    int64
	nextDataOffset int64
}

// shardPath returns the canonical (zero-padded) path for shard i of k, and
// the legacy unpadded alternate accepted on read. When k == 1, splitting is
// disabled and the shard lives at basePath itself.
func shardPath(basePath string, i, k int64) (canonical, alternate string) {
	if k <= 1 {
		return basePath, basePath
	}
	width := len(fmt.Sprintf("%d", k-1))
	canonical = fmt.Sprintf("%s.%0*d", basePath, width, i)
	alternate = fmt.Sprintf("%s.%d", basePath, i)
	return canonical, alternate
}

// resolveShardPath returns whichever of the canonical/alternate shard paths
// exists on disk, or the canonical path if neither does (the caller is
// about to create it).
func resolveShardPath(basePath string, i, k int64) string {
	canonical, alternate := shardPath(basePath, i, k)
	if canonical == alternate {
		return canonical
	}
	if _, err := os.Stat(canonical); err == nil {
		return canonical
	}
	if _, err := os.Stat(alternate); err == nil {
		return alternate
	}
	return canonical
}

// probeShardCount inspects basePath's shard 0 (whichever naming it uses) to
// recover K without the caller having to know it in advance: K is derived
// from the persisted split_size and virtual_size, not counted by globbing.
// It returns 0 if no shard exists yet.
func probeShardCount(basePath string) (int64, error) {
	path := basePath
	if _, err := os.Stat(path); err != nil {
		found := false
		for width := 1; width <= 4; width++ {
			candidate := fmt.Sprintf("%s.%0*d", basePath, width, 0)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				found = true
				break
			}
		}
		if !found {
			candidate := basePath + ".0"
			if _, err := os.Stat(candidate); err != nil {
				return 0, nil
			}
			path = candidate
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, xerrors.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	version, splitSize, virtualSize, err := readMetadata(f)
	if err != nil {
		return 0, err
	}
	if version != FormatVersion {
		return 0, xerrors.Errorf("%s: %w", path, ErrFormatMismatch)
	}
	if splitSize <= 0 {
		return 0, xerrors.Errorf("%s: %w", path, ErrFormatMismatch)
	}
	return (virtualSize + splitSize - 1) / splitSize, nil
}

// readMetadata reads the 24-byte metadata record from an already-open
// shard file.
func readMetadata(f *os.File) (version, splitSize, virtualSize int64, err error) {
	buf := make([]byte, metadataSize)
	if _, err := f.ReadAt(buf, metadataOffset); err != nil {
		return 0, 0, 0, xerrors.Errorf("reading metadata: %w", err)
	}
	version = int64(binary.LittleEndian.Uint64(buf[0:8]))
	splitSize = int64(binary.LittleEndian.Uint64(buf[8:16]))
	virtualSize = int64(binary.LittleEndian.Uint64(buf[16:24]))
	return version, splitSize, virtualSize, nil
}

// writeMetadata writes the banner and the 24-byte metadata record to an
// already-open shard file. It does not touch the index region past the
// header.
func writeMetadata(f *os.File, version, splitSize, virtualSize int64) error {
	if _, err := f.WriteAt([]byte(banner), 0); err != nil {
		return xerrors.Errorf("writing banner: %w", err)
	}
	buf := make([]byte, metadataSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(version))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(splitSize))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(virtualSize))
	if _, err := f.WriteAt(buf, metadataOffset); err != nil {
		return xerrors.Errorf("writing metadata: %w", err)
	}
	return nil
}

// openShard opens shard i of k under basePath, creating it if it does not
// exist. requestedSize is only consulted when creating a fresh shard or
// growing an existing store's virtual size; requestedSplit sizes a fresh
// shard and, when positive, must match an existing shard's split_size.
func openShard(basePath string, i, k, requestedSize, requestedSplit int64) (*shard, error) {
	path := resolveShardPath(basePath, i, k)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("stat %s: %w", path, err)
	}

	sh := &shard{path: path, file: f}

	if info.Size() == 0 {
		splitSize := requestedSplit
		if splitSize <= 0 {
			splitSize = requestedSize
		}
		if splitSize <= 0 {
			f.Close()
			return nil, xerrors.Errorf("creating %s: %w", path, xerrors.New("split size must be positive"))
		}
		if err := writeMetadata(f, FormatVersion, splitSize, requestedSize); err != nil {
			f.Close()
			return nil, err
		}
		if err := growFile(f, headerSize(splitSize)); err != nil {
			f.Close()
			return nil, xerrors.Errorf("extending %s: %w", path, err)
		}
		sh.formatVersion = FormatVersion
		sh.splitSize = splitSize
		sh.virtualSize = requestedSize
		sh.nextDataOffset = headerSize(splitSize)
	} else {
		version, splitSize, virtualSize, err := readMetadata(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if version != FormatVersion {
			f.Close()
			return nil, xerrors.Errorf("%s: %w", path, ErrFormatMismatch)
		}
		if requestedSplit > 0 && requestedSplit != splitSize {
			f.Close()
			return nil, xerrors.Errorf("%s: split size %d does not match existing %d: %w", path, requestedSplit, splitSize, ErrFormatMismatch)
		}
		// A requested size at or below the persisted virtual_size is not an
		// error: it is simply ignored, leaving the store at its current
		// size.
		if requestedSize > virtualSize {
			if err := writeMetadata(f, version, splitSize, requestedSize); err != nil {
				f.Close()
				return nil, err
			}
			virtualSize = requestedSize
		}

		next := info.Size()
		hs := headerSize(splitSize)
		if next < hs {
			next = hs
		} else {
			next = hs + ((next-hs)/BlockSize)*BlockSize
		}

		sh.formatVersion = version
		sh.splitSize = splitSize
		sh.virtualSize = virtualSize
		sh.nextDataOffset = next
	}

	mapped, err := mmapShared(f, int(headerSize(sh.splitSize)))
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("mapping %s: %w", path, err)
	}
	sh.mapped = mapped

	return sh, nil
}

func (sh *shard) close() error {
	var firstErr error
	if err := msync(sh.mapped); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := munmapShared(sh.mapped); err != nil && firstErr == nil {
		firstErr = err
	}
	sh.mapped = nil
	if err := sh.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (sh *shard) sync() error {
	if err := msync(sh.mapped); err != nil {
		return err
	}
	return sh.file.Sync()
}
