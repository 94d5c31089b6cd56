// Package bridge exposes a store.Store as a single FUSE-mounted file,
// translating fuseops calls into positional reads and writes against the
// block store.
package bridge

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/sparsevol/sparsevol/internal/store"
)

const (
	rootInode = fuseops.RootInodeID // 1
	fileInode = fuseops.InodeID(2)

	fileName = "virtual.dat"
)

// never is used for attribute and entry expiration timestamps. Neither the
// root directory nor the virtual file's identity ever changes, so the
// kernel can cache them indefinitely.
var never = time.Now().Add(365 * 24 * time.Hour)

// FS implements fuseutil.FileSystem over exactly two inodes: a read-only
// root directory and the single virtual.dat file backed by a store.Store.
type FS struct {
	fuseutil.NotImplementedFileSystem

	store *store.Store

	mu      sync.Mutex
	handles map[fuseops.HandleID]struct{}
	next    fuseops.HandleID
}

// New wraps st for FUSE serving.
func New(st *store.Store) *FS {
	return &FS{
		store:   st,
		handles: make(map[fuseops.HandleID]struct{}),
	}
}

// Mount mounts fs at mountpoint and returns the underlying jacobsa/fuse
// server so the caller can Join it and arrange for unmounting on shutdown.
func Mount(mountpoint string, fs *FS, debug bool) (*fuse.MountedFileSystem, error) {
	server := fuseutil.NewFileSystemServer(fs)
	cfg := &fuse.MountConfig{
		FSName: "sparsevol",
		Options: map[string]string{
			"allow_other": "",
		},
	}
	if debug {
		cfg.DebugLogger = log.New(os.Stderr, "[fuse] ", log.LstdFlags)
	}
	mfs, err := fuse.Mount(mountpoint, server, cfg)
	if err != nil {
		return nil, xerrors.Errorf("bridge: mounting at %s: %w", mountpoint, err)
	}
	return mfs, nil
}

// Unmount unmounts the filesystem previously mounted at mountpoint.
func Unmount(mountpoint string) error {
	return syscall.Unmount(mountpoint, 0)
}

func (fs *FS) rootAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 2,
		Mode:  os.ModeDir | 0o755,
	}
}

func (fs *FS) fileAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(fs.store.VirtualSize),
		Nlink: 1,
		Mode:  0o444,
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = store.BlockSize
	op.Blocks = uint64(fs.store.VirtualSize) / store.BlockSize
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.IoSize = 65536
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	if op.Parent != rootInode || op.Name != fileName {
		return fuse.ENOENT
	}
	op.Entry.Child = fileInode
	op.Entry.Attributes = fs.fileAttributes()
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	switch op.Inode {
	case rootInode:
		op.Attributes = fs.rootAttributes()
	case fileInode:
		op.Attributes = fs.fileAttributes()
	default:
		return fuse.ENOENT
	}
	op.AttributesExpiration = never
	return nil
}

// SetInodeAttributes accepts attribute changes (chmod, chown, utimes) as
// no-ops and reports the file's real, store-derived size regardless of any
// requested truncation: the virtual file's size only ever changes by
// growing the store itself.
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	switch op.Inode {
	case rootInode:
		op.Attributes = fs.rootAttributes()
	case fileInode:
		op.Attributes = fs.fileAttributes()
	default:
		return fuse.ENOENT
	}
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOENT
	}
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOENT
	}
	entries := []fuseutil.Dirent{
		{
			Offset: 1,
			Inode:  fileInode,
			Name:   fileName,
			Type:   fuseutil.DT_File,
		},
	}
	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	if op.Inode != fileInode {
		return fuse.ENOENT
	}
	fs.mu.Lock()
	fs.next++
	handle := fs.next
	fs.handles[handle] = struct{}{}
	fs.mu.Unlock()
	op.Handle = handle
	op.KeepPageCache = false
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	n, err := fs.store.ReadAt(op.Dst, op.Offset)
	op.BytesRead = n
	if err != nil {
		return fuse.EIO
	}
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := fs.store.WriteAt(op.Data, op.Offset)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrOutOfSpace) {
		return syscall.ENOSPC
	}
	return fuse.EIO
}

func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	if err := fs.store.Sync(); err != nil {
		return fuse.EIO
	}
	return nil
}

func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	if err := fs.store.Sync(); err != nil {
		return fuse.EIO
	}
	return nil
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	delete(fs.handles, op.Handle)
	fs.mu.Unlock()
	return nil
}

func (fs *FS) Destroy() {
	if err := fs.store.Close(); err != nil {
		// Nothing left to report to: the kernel has already torn down the
		// mount by the time Destroy is called.
		_ = err
	}
}
