package heap

// MinClassSize is the smallest size class. Requests below it, including
// zero-size requests, are rounded up to it.
const MinClassSize = 16

// ClassSize returns the usable size for a request: the next power of 2
// >= size, never below MinClassSize.
func ClassSize(size int) int {
	if size <= MinClassSize {
		return MinClassSize
	}
	return nextPowerOfTwo(size)
}

// nextPowerOfTwo returns the next power of 2 >= n
func nextPowerOfTwo(n int) int {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// alignUp rounds n up to the next multiple of align. align must be a
// power of two.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
