package store

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tempBase(t *testing.T) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "sparsevol-store")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "virtual")
}

const mib = 1 << 20

func mustOpen(t *testing.T, base string, size, split int64) *Store {
	t.Helper()
	st, err := Open(base, size, split)
	if err != nil {
		t.Fatalf("Open(%q, %d, %d): %v", base, size, split, err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Scenario 1: fresh store, single shard, basic read/write round trip and
// exact shard file length.
func TestScenarioBasicReadWrite(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)

	if _, err := st.WriteAt([]byte("HELLO"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	got := make([]byte, 5)
	if _, err := st.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if diff := cmp.Diff([]byte("HELLO"), got); diff != "" {
		t.Errorf("ReadAt(0,5) mismatch (-want +got):\n%s", diff)
	}

	tail := make([]byte, 11)
	if _, err := st.ReadAt(tail, 5); err != nil {
		t.Fatalf("ReadAt tail: %v", err)
	}
	if diff := cmp.Diff(make([]byte, 11), tail); diff != "" {
		t.Errorf("ReadAt(5,11) mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	wantLen := int64(BlockSize) + (16*mib/BlockSize)*8 + BlockSize
	if info.Size() != wantLen {
		t.Errorf("shard file length = %d, want %d", info.Size(), wantLen)
	}
}

// Scenario 2: an all-zero write to a never-allocated block does not grow
// the shard file.
func TestScenarioZeroWriteStaysSparse(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)

	info, err := os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	before := info.Size()

	if _, err := st.WriteAt(make([]byte, BlockSize), BlockSize); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	info, err = os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != before {
		t.Errorf("shard grew after all-zero write: before=%d after=%d", before, info.Size())
	}
}

// Scenario 3: overwriting the same slot allocates only once.
func TestScenarioOverwriteSameSlot(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)

	if _, err := st.WriteAt([]byte("A"), 0); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	afterFirst := info.Size()

	if _, err := st.WriteAt([]byte("B"), 0); err != nil {
		t.Fatal(err)
	}
	info, err = os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != afterFirst {
		t.Errorf("shard length changed on overwrite: before=%d after=%d", afterFirst, info.Size())
	}

	got := make([]byte, 1)
	if _, err := st.ReadAt(got, 0); err != nil {
		t.Fatal(err)
	}
	if got[0] != 'B' {
		t.Errorf("read back %q, want %q", got, "B")
	}
}

// Scenario 4: a write spanning a shard boundary allocates in both shards
// and reads back intact.
func TestScenarioShardBoundarySplit(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	const v, s = 8 * mib, 4 * mib
	st := mustOpen(t, base, v, s)

	off := int64(s) - 1
	if _, err := st.WriteAt([]byte{0x11, 0x22}, off); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 2)
	if _, err := st.ReadAt(got, off); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x11, 0x22}, got); diff != "" {
		t.Errorf("boundary read mismatch (-want +got):\n%s", diff)
	}
	if st.ShardCount() != 2 {
		t.Fatalf("ShardCount() = %d, want 2", st.ShardCount())
	}
}

// Scenario 5: virtual_size only ever grows across reopen, never shrinks.
func TestScenarioGrowOnReopen(t *testing.T) {
	t.Parallel()
	base := tempBase(t)

	st := mustOpen(t, base, 10*mib, 0)
	st.Close()

	st2, err := Open(base, 20*mib, 0)
	if err != nil {
		t.Fatal(err)
	}
	if st2.VirtualSize != 20*mib {
		t.Fatalf("VirtualSize after growth = %d, want %d", st2.VirtualSize, 20*mib)
	}
	st2.Close()

	st3, err := Open(base, 5*mib, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer st3.Close()
	if st3.VirtualSize != 20*mib {
		t.Fatalf("VirtualSize after no-op shrink request = %d, want %d (unchanged)", st3.VirtualSize, 20*mib)
	}
}

// Scenario 6: reopening with a mismatched split size is a format error and
// leaves the shard untouched.
func TestScenarioSplitMismatchRejected(t *testing.T) {
	t.Parallel()
	base := tempBase(t)

	st := mustOpen(t, base, 16*mib, 0)
	st.Close()

	before, err := ioutil.ReadFile(base)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open(base, 0, 4*mib); err == nil {
		t.Fatal("Open with mismatched split size succeeded, want error")
	}

	after, err := ioutil.ReadFile(base)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("shard file was modified despite format-mismatch rejection")
	}
}

// Reopening a store preserves the content of every previously written block.
func TestReopenPreservesContent(t *testing.T) {
	t.Parallel()
	base := tempBase(t)

	st := mustOpen(t, base, 16*mib, 0)
	payload := []byte("the quick brown fox")
	if _, err := st.WriteAt(payload, 1000); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(base, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()

	got := make([]byte, len(payload))
	if _, err := st2.ReadAt(got, 1000); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Errorf("post-reopen read mismatch (-want +got):\n%s", diff)
	}
}

// Boundary: write(V-1, [b]) succeeds; write(V-1, [b,b]) fails out-of-space
// and never begins mutating state for the rejected call.
func TestBoundaryWritePastEnd(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)

	if n, err := st.WriteAt([]byte{0xAB}, st.VirtualSize-1); err != nil || n != 1 {
		t.Fatalf("WriteAt(V-1, 1 byte) = (%d, %v), want (1, nil)", n, err)
	}

	info, err := os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	before := info.Size()

	n, err := st.WriteAt([]byte{0xCD, 0xEF}, st.VirtualSize-1)
	if err == nil {
		t.Fatalf("WriteAt past end succeeded with n=%d, want out-of-space error", n)
	}

	info, err = os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != before {
		t.Errorf("shard length changed on rejected out-of-space write: before=%d after=%d", before, info.Size())
	}
}

// Boundary: zero-length read/write returns 0 immediately.
func TestBoundaryZeroLength(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)

	if n, err := st.WriteAt(nil, 0); n != 0 || err != nil {
		t.Errorf("WriteAt(nil, 0) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := st.ReadAt(nil, 0); n != 0 || err != nil {
		t.Errorf("ReadAt(nil, 0) = (%d, %v), want (0, nil)", n, err)
	}
}

// Round-trip law: two writes to disjoint ranges commute.
func TestDisjointWritesCommute(t *testing.T) {
	t.Parallel()
	base1, base2 := tempBase(t), tempBase(t)
	st1 := mustOpen(t, base1, 16*mib, 0)
	st2 := mustOpen(t, base2, 16*mib, 0)

	a := []byte("aaaa")
	b := []byte("bbbb")

	if _, err := st1.WriteAt(a, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := st1.WriteAt(b, BlockSize*2); err != nil {
		t.Fatal(err)
	}

	if _, err := st2.WriteAt(b, BlockSize*2); err != nil {
		t.Fatal(err)
	}
	if _, err := st2.WriteAt(a, 0); err != nil {
		t.Fatal(err)
	}

	got1a, got2a := make([]byte, 4), make([]byte, 4)
	st1.ReadAt(got1a, 0)
	st2.ReadAt(got2a, 0)
	if diff := cmp.Diff(got1a, got2a); diff != "" {
		t.Errorf("commuted writes disagree at offset 0 (-order1 +order2):\n%s", diff)
	}

	got1b, got2b := make([]byte, 4), make([]byte, 4)
	st1.ReadAt(got1b, BlockSize*2)
	st2.ReadAt(got2b, BlockSize*2)
	if diff := cmp.Diff(got1b, got2b); diff != "" {
		t.Errorf("commuted writes disagree at second offset (-order1 +order2):\n%s", diff)
	}
}

// Invariant: every non-zero index entry is block-aligned, at or past the
// header, and within the current file length.
func TestInvariantIndexEntriesAligned(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)

	for i := 0; i < 10; i++ {
		if _, err := st.WriteAt([]byte{byte(i) + 1}, int64(i)*BlockSize); err != nil {
			t.Fatal(err)
		}
	}

	sh := st.shards[0]
	hs := headerSize(sh.splitSize)
	info, err := os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]bool)
	for slot := int64(0); slot < 10; slot++ {
		off := sh.lookup(slot)
		if off == 0 {
			t.Fatalf("slot %d unexpectedly unallocated", slot)
		}
		if off < hs || off%BlockSize != 0 {
			t.Errorf("slot %d offset %d not aligned/past header (header=%d)", slot, off, hs)
		}
		if off+BlockSize > info.Size() {
			t.Errorf("slot %d offset %d + block exceeds file size %d", slot, off, info.Size())
		}
		if seen[off] {
			t.Errorf("duplicate data offset %d across slots", off)
		}
		seen[off] = true
	}
}

// Invariant: after clean close, shard file length is header-plus-index
// size plus a whole number of blocks.
func TestInvariantFileLengthBlockAligned(t *testing.T) {
	t.Parallel()
	base := tempBase(t)
	st := mustOpen(t, base, 16*mib, 0)
	if _, err := st.WriteAt([]byte("x"), 123); err != nil {
		t.Fatal(err)
	}
	hs := headerSize(st.SplitSize)
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(base)
	if err != nil {
		t.Fatal(err)
	}
	if (info.Size()-hs)%BlockSize != 0 {
		t.Errorf("file length %d not header+whole blocks (header=%d)", info.Size(), hs)
	}
}
