// Package store implements the sparse block store: the on-disk shard
// layout, the offset-to-block index, the zero-block elision policy, the
// append-only allocator, and the concurrency discipline that lets many
// readers coexist with writers.
package store

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// BlockSize is the fixed unit of allocation and addressing (B in the design
// notes).
const BlockSize = 4096

// FormatVersion is written into every shard's metadata record. Shards
// written by a different version are refused on open.
const FormatVersion = 400

// MaxShards is the hard cap on the number of shards a single store may
// split across.
const MaxShards = 9999

// Sentinel errors returned by the data plane. Bridges translate these into
// whatever error convention they speak (POSIX errno, FUSE codes, ...).
var (
	ErrOutOfSpace     = errors.New("store: out of space")
	ErrNoEntry        = errors.New("store: no such entry")
	ErrFormatMismatch = errors.New("store: shard format mismatch")
)

// Store is the collective state for one mounted instance: every shard's
// file handle, memory-mapped index, and allocator bookkeeping. It carries
// no package-level globals; every caller holds its own *Store.
type Store struct {
	// VirtualSize is V: the logical size of the virtual file.
	VirtualSize int64

	// SplitSize is S: the logical capacity of each shard. Equals
	// VirtualSize when splitting is disabled.
	SplitSize int64

	shards []*shard

	// allocMu serializes only the allocation critical section (index
	// lookup + bump + index store), never the subsequent positional data
	// I/O.
	allocMu sync.Mutex
}

// Open opens or creates a store rooted at basePath. If no shard exists yet,
// requestedSize must be positive and a fresh store is created. If shards
// already exist, a positive requestedSplit must match the persisted
// split_size exactly (zero adopts the persisted value), and requestedSize
// may only grow the persisted virtual_size, never shrink it.
func Open(basePath string, requestedSize, requestedSplit int64) (*Store, error) {
	if basePath == "" {
		return nil, xerrors.Errorf("store: opening store: %w", errors.New("empty storage path"))
	}

	existingK, err := probeShardCount(basePath)
	if err != nil {
		return nil, xerrors.Errorf("store: probing shard count: %w", err)
	}

	var k int64
	switch {
	case existingK > 0:
		k = existingK
	case requestedSize <= 0:
		return nil, xerrors.Errorf("store: creating store: %w", errors.New("virtual size must be positive"))
	default:
		split := requestedSplit
		if split <= 0 {
			split = requestedSize
		}
		k = (requestedSize + split - 1) / split
	}
	if k <= 0 {
		k = 1
	}
	if k > MaxShards {
		return nil, xerrors.Errorf("store: creating store: %w", xerrors.Errorf("%d shards exceeds hard cap of %d", k, MaxShards))
	}

	shards := make([]*shard, k)
	var eg errgroup.Group
	for i := int64(0); i < k; i++ {
		i := i
		eg.Go(func() error {
			sh, err := openShard(basePath, i, k, requestedSize, requestedSplit)
			if err != nil {
				return xerrors.Errorf("store: opening shard %d: %w", i, err)
			}
			shards[i] = sh
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, sh := range shards {
			if sh != nil {
				_ = sh.close()
			}
		}
		return nil, err
	}

	virtualSize := shards[0].virtualSize
	splitSize := shards[0].splitSize
	for _, sh := range shards[1:] {
		if sh.virtualSize != virtualSize || sh.splitSize != splitSize {
			for _, s := range shards {
				_ = s.close()
			}
			return nil, xerrors.Errorf("store: %w", ErrFormatMismatch)
		}
	}

	return &Store{
		VirtualSize: virtualSize,
		SplitSize:   splitSize,
		shards:      shards,
	}, nil
}

// Close flushes and closes every shard file. It does not destroy any
// on-disk state; a store is destroyed only by external removal of its
// shard files.
func (s *Store) Close() error {
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sync flushes every shard's mapped index and data file to stable storage.
func (s *Store) Sync() error {
	for _, sh := range s.shards {
		if err := sh.sync(); err != nil {
			return xerrors.Errorf("store: syncing shard: %w", err)
		}
	}
	return nil
}

// ShardCount returns K.
func (s *Store) ShardCount() int { return len(s.shards) }
