package store

import (
	"errors"
	"io"

	"golang.org/x/xerrors"
)

// ReadAt fills p from the virtual file starting at off, implementing
// io.ReaderAt. A read that runs past the end of the virtual file is
// clamped silently, returning fewer bytes than len(p) with a nil error,
// matching what a real block device does when a client over-reads.
// Never-allocated blocks read back as zero without touching any shard.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, xerrors.Errorf("store: read at negative offset %d", off)
	}
	total := 0
	for total < len(p) {
		cur := off + int64(total)
		if cur >= s.VirtualSize {
			break
		}
		a := s.addr(cur)
		sh := s.shards[a.shard]

		chunk := BlockSize - a.byteInBlock
		if remaining := int64(len(p) - total); chunk > remaining {
			chunk = remaining
		}
		if remaining := s.VirtualSize - cur; chunk > remaining {
			chunk = remaining
		}

		dst := p[total : total+int(chunk)]
		dataOffset := sh.lookup(a.slot)
		if dataOffset == 0 {
			zeroFill(dst)
		} else {
			n, err := sh.file.ReadAt(dst, dataOffset+a.byteInBlock)
			if n < len(dst) {
				zeroFill(dst[n:])
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return total + n, xerrors.Errorf("store: reading block: %w", err)
			}
		}
		total += int(chunk)
	}
	return total, nil
}

// WriteAt writes p into the virtual file starting at off, implementing
// io.WriterAt. The whole write is rejected with ErrOutOfSpace up front if
// it would run past the virtual file's end; partial writes past that point
// never happen. An all-zero chunk landing on a never-allocated block is
// elided rather than forcing an allocation, keeping the backing store
// sparse.
func (s *Store) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, xerrors.Errorf("store: write at negative offset %d", off)
	}
	if off+int64(len(p)) > s.VirtualSize {
		return 0, xerrors.Errorf("store: write past end of virtual file: %w", ErrOutOfSpace)
	}

	total := 0
	for total < len(p) {
		cur := off + int64(total)
		a := s.addr(cur)
		sh := s.shards[a.shard]

		chunk := BlockSize - a.byteInBlock
		if remaining := int64(len(p) - total); chunk > remaining {
			chunk = remaining
		}
		src := p[total : total+int(chunk)]
		full := chunk == BlockSize

		s.allocMu.Lock()
		dataOffset := sh.lookup(a.slot)
		if dataOffset == 0 {
			if full && isZero(src) {
				s.allocMu.Unlock()
				total += int(chunk)
				continue
			}
			newOffset, err := sh.allocate(a.slot)
			if err != nil {
				s.allocMu.Unlock()
				return total, err
			}
			dataOffset = newOffset
		}
		s.allocMu.Unlock()

		n, err := sh.file.WriteAt(src, dataOffset+a.byteInBlock)
		total += n
		if err != nil {
			return total, xerrors.Errorf("store: writing block: %w", err)
		}
	}
	return total, nil
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
