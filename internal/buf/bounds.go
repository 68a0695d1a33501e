// Package buf provides overflow-checked arithmetic and bounds helpers for
// physical address math and slices of the RAM arena.
package buf

import (
	"fmt"
	"math"
)

// AddU64 adds a and b, returning ok = false when the result would wrap.
func AddU64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// MulU64 multiplies a and b, returning ok = false when the result would wrap.
func MulU64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// CheckSpan validates that the span [start, start+size) neither wraps nor
// extends past limit. It returns the exclusive end of the span.
//
//	end, err := buf.CheckSpan(pa, PageSize, physTop)
//	if err != nil {
//	    return fmt.Errorf("page: %w", err)
//	}
func CheckSpan(start, size, limit uint64) (uint64, error) {
	end, ok := AddU64(start, size)
	if !ok {
		return 0, fmt.Errorf("overflow: start=%#x + size=%#x", start, size)
	}
	if end > limit {
		return 0, fmt.Errorf("bounds: end=%#x > limit=%#x", end, limit)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	if n > math.MaxInt-off {
		return nil, false
	}
	end := off + n
	if end > len(b) {
		return nil, false
	}
	return b[off:end:end], true
}

// Fill sets every byte of b to v.
func Fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for filled := 1; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}
}
