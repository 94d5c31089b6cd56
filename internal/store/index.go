package store

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// lookup returns the data offset stored for slot, or 0 if the slot has
// never been allocated. The 8-byte entry is loaded as one atomic machine
// word so that concurrent readers never observe a torn entry while a
// writer is storing a freshly allocated offset, then its raw bytes are
// decoded explicitly as little-endian to match the on-disk format
// regardless of the host's native byte order.
func (sh *shard) lookup(slot int64) int64 {
	entry := sh.mapped[BlockSize+slot*8 : BlockSize+slot*8+8]
	word := atomic.LoadUint64((*uint64)(unsafe.Pointer(&entry[0])))
	buf := (*[8]byte)(unsafe.Pointer(&word))
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// store records offset as the data location for slot. Callers must hold
// the owning Store's allocation lock: store is the only mutation the index
// region ever sees, and it only ever happens during allocation. offset is
// encoded into little-endian bytes first, then those bytes are written as
// one atomic machine word so the on-disk layout never depends on host byte
// order.
func (sh *shard) store(slot, offset int64) {
	entry := sh.mapped[BlockSize+slot*8 : BlockSize+slot*8+8]
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	word := *(*uint64)(unsafe.Pointer(&buf[0]))
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&entry[0])), word)
}
