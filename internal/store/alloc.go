package store

import "golang.org/x/xerrors"

// allocate bumps the shard's append pointer, records the new block's
// offset for slot in the index, and sparsely extends the file so the block
// reads back as zero before anything is written into it. The caller must
// hold the owning Store's allocation lock for the duration of this call;
// once it returns, writing the actual block data needs no further
// synchronization.
func (sh *shard) allocate(slot int64) (int64, error) {
	offset := sh.nextDataOffset
	next := offset + BlockSize
	if next > sh.splitSize+headerSize(sh.splitSize) {
		return 0, xerrors.Errorf("shard %s: %w", sh.path, ErrOutOfSpace)
	}
	if err := growFile(sh.file, next); err != nil {
		return 0, xerrors.Errorf("allocating block in %s: %w", sh.path, err)
	}
	sh.store(slot, offset)
	sh.nextDataOffset = next
	return offset, nil
}
