package kalloc

import (
	"math"
	"sync"

	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/physmem"
)

// RefTable holds the number of live owners of every page frame in RAM.
// Entry i belongs to the frame at base + i*PageSize.
type RefTable struct {
	mu     sync.Mutex
	base   physmem.PA
	top    physmem.PA
	counts []int32
}

// NewRefTable returns a table covering the frames in [base, top), all with a
// count of zero. base and top must be page-aligned.
func NewRefTable(base, top physmem.PA) *RefTable {
	return &RefTable{
		base:   base,
		top:    top,
		counts: make([]int32, memlayout.PageCount(uint64(top-base))),
	}
}

// Len returns the number of frames the table covers.
func (rt *RefTable) Len() int { return len(rt.counts) }

// check validates pa for op and returns its frame index.
func (rt *RefTable) check(op string, pa physmem.PA) (uint32, error) {
	if pa < rt.base || pa >= rt.top {
		return 0, newFatal(op, pa, ErrOutOfRange)
	}
	if !pa.Aligned() {
		return 0, newFatal(op, pa, ErrMisaligned)
	}
	return uint32((pa - rt.base) >> memlayout.PageShift), nil
}

// Inc adds one owner to the page at pa.
func (rt *RefTable) Inc(pa physmem.PA) error {
	frame, err := rt.check("IncRef", pa)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.counts[frame] == math.MaxInt32 {
		return newFatal("IncRef", pa, ErrRefOverflow)
	}
	rt.counts[frame]++
	return nil
}

// Dec removes one owner from the page at pa and reports whether that was the
// last one. Recycling the page is left to the caller so the table's lock is
// never held together with the free list's.
func (rt *RefTable) Dec(pa physmem.PA) (bool, error) {
	return rt.dec("DecRef", pa)
}

func (rt *RefTable) dec(op string, pa physmem.PA) (bool, error) {
	frame, err := rt.check(op, pa)
	if err != nil {
		return false, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.counts[frame] < 1 {
		return false, newFatal(op, pa, ErrZeroRefcount)
	}
	rt.counts[frame]--
	return rt.counts[frame] == 0, nil
}

// Get returns the number of owners of the page at pa.
func (rt *RefTable) Get(pa physmem.PA) (int, error) {
	frame, err := rt.check("GetRef", pa)
	if err != nil {
		return 0, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return int(rt.counts[frame]), nil
}

// set overwrites the count of a frame the caller has exclusive use of: one
// just popped from the free list, or one being registered at boot.
func (rt *RefTable) set(frame uint32, n int32) {
	rt.mu.Lock()
	rt.counts[frame] = n
	rt.mu.Unlock()
}

// copyCounts returns a copy of every count. Callers hold rt.mu.
func (rt *RefTable) copyCounts() []int32 {
	out := make([]int32, len(rt.counts))
	copy(out, rt.counts)
	return out
}
