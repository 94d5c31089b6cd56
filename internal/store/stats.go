package store

// ShardStats reports how much of one shard's logical capacity has actually
// been allocated, for operators deciding whether a store is filling up.
type ShardStats struct {
	Path          string
	SplitSize     int64
	AllocatedSize int64
}

// SparseFraction returns the proportion of the shard's logical capacity
// that has never been allocated, in [0, 1].
func (s ShardStats) SparseFraction() float64 {
	if s.SplitSize == 0 {
		return 0
	}
	return 1 - float64(s.AllocatedSize)/float64(s.SplitSize)
}

// Stats returns a snapshot of every shard's allocation state. It reads each
// shard's append pointer without taking the allocation lock, so the
// numbers may be a block or two stale under concurrent writers.
func (s *Store) Stats() []ShardStats {
	out := make([]ShardStats, len(s.shards))
	for i, sh := range s.shards {
		out[i] = ShardStats{
			Path:          sh.path,
			SplitSize:     sh.splitSize,
			AllocatedSize: sh.nextDataOffset - headerSize(sh.splitSize),
		}
	}
	return out
}
