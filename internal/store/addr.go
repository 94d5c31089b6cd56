package store

// headerSize is B + (S/B)·8: the size in bytes of the header-plus-index
// region at the front of every shard file, for a shard whose logical
// capacity is splitSize.
func headerSize(splitSize int64) int64 {
	slots := splitSize / BlockSize
	return BlockSize + slots*8
}

// address is the result of resolving a virtual offset to its shard, slot,
// and position within the block.
type address struct {
	shard          int64
	slot           int64
	byteInBlock    int64
	indexEntryByte int64 // offset of this slot's 8-byte entry within the shard file
}

// addr computes the address of virtual offset o. Callers must ensure
// 0 <= o < VirtualSize; rejecting an out-of-range offset is the I/O
// engine's responsibility, not addr's.
func (s *Store) addr(o int64) address {
	shard := o / s.SplitSize
	within := o - shard*s.SplitSize
	slot := within / BlockSize
	return address{
		shard:          shard,
		slot:           slot,
		byteInBlock:    o % BlockSize,
		indexEntryByte: BlockSize + slot*8,
	}
}
