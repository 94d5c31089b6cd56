package store

// isZero reports whether every byte of b is zero. The write path uses this
// to decide whether a would-be-written block needs allocating at all: long
// runs of zeros are the common case when a client formats a filesystem
// image inside the virtual file, and eliding them is what keeps the
// backing store sparse.
func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
