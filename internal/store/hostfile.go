package store

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// mmapShared maps the first length bytes of f read/write, shared with the
// kernel page cache, so that writes through the returned slice are visible
// to every other mapping of the same file: the index needs a zero-copy view
// shared by every reader and writer of the shard.
//
// Grounded on calvinalkan-agent-task/cache_binary.go, which mmaps a binary
// index with syscall.Mmap; this uses golang.org/x/sys/unix instead of the
// bare syscall package, an ABI-stable cross-platform wrapper already used
// elsewhere in this codebase (unix.Setrlimit in cmd/sparsevold), with
// PROT_READ|PROT_WRITE instead of PROT_READ since the index must be mutated
// in place.
func mmapShared(f *os.File, length int) ([]byte, error) {
	b, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, xerrors.Errorf("mmap: %w", err)
	}
	return b, nil
}

func munmapShared(b []byte) error {
	if b == nil {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return xerrors.Errorf("munmap: %w", err)
	}
	return nil
}

// msync flushes dirty pages of a shared mapping to the backing file without
// unmapping it, giving the index durability guarantees independent of the
// data area's own fsync.
func msync(b []byte) error {
	if b == nil {
		return nil
	}
	if err := unix.Msync(b, unix.MS_SYNC); err != nil {
		return xerrors.Errorf("msync: %w", err)
	}
	return nil
}

// growFile sparsely extends f to at least size bytes. Sparse extension is
// what lets a freshly allocated block read back as zero before its first
// partial write, without the implementation zeroing anything itself.
func growFile(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return xerrors.Errorf("stat: %w", err)
	}
	if info.Size() >= size {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return xerrors.Errorf("truncate: %w", err)
	}
	return nil
}
