package memlayout

// PageRoundUp returns a rounded up to the next page boundary.
//
// Example:
//
//	PageRoundUp(0x80000001) = 0x80001000
//	PageRoundUp(0x80001000) = 0x80001000
func PageRoundUp(a uint64) uint64 {
	return (a + PageMask) &^ PageMask
}

// PageRoundDown returns a rounded down to the page that contains it.
//
// Example:
//
//	PageRoundDown(0x80000fff) = 0x80000000
func PageRoundDown(a uint64) uint64 {
	return a &^ PageMask
}

// IsPageAligned reports whether a sits exactly on a page boundary.
func IsPageAligned(a uint64) bool {
	return a&PageMask == 0
}

// PageCount returns the number of whole pages in n bytes.
func PageCount(n uint64) uint64 {
	return n >> PageShift
}
