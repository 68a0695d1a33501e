package kalloc

import (
	"fmt"
	"slices"

	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/physmem"
)

// Stats summarizes the allocator's state and history.
type Stats struct {
	ManagedPages   int // pages registered at boot
	FreePages      int // pages on the free list
	AllocatedPages int // pages with at least one owner
	SharedPages    int // pages with more than one owner
	References     int // sum of all counts

	Allocs    uint64 // successful AllocPage calls
	Frees     uint64 // FreePage calls that recycled a page, boot included
	Exhausted uint64 // AllocPage calls that found no page
}

// Stats returns a consistent summary of the allocator.
func (a *Allocator) Stats() Stats {
	st := Stats{
		ManagedPages: a.managed,
		Allocs:       a.allocs.Load(),
		Frees:        a.frees.Load(),
		Exhausted:    a.exhausted.Load(),
	}

	a.free.mu.Lock()
	a.refs.mu.Lock()
	st.FreePages = len(a.free.frames)
	for _, c := range a.refs.counts {
		if c > 0 {
			st.AllocatedPages++
			st.References += int(c)
		}
		if c > 1 {
			st.SharedPages++
		}
	}
	a.refs.mu.Unlock()
	a.free.mu.Unlock()
	return st
}

// Snapshot is a point-in-time copy of both allocator tables.
type Snapshot struct {
	Layout memlayout.Layout
	Counts []int32      // owners per frame, indexed from Layout.KernBase
	Free   []physmem.PA // free pages, ascending
}

// Snapshot copies both tables. The locks are taken in the allocator's order,
// so the copy is consistent.
func (a *Allocator) Snapshot() Snapshot {
	a.free.mu.Lock()
	a.refs.mu.Lock()
	frames := a.free.copyFrames()
	counts := a.refs.copyCounts()
	a.refs.mu.Unlock()
	a.free.mu.Unlock()

	free := make([]physmem.PA, len(frames))
	for i, f := range frames {
		free[i] = a.frameAddr(f)
	}
	slices.Sort(free)
	return Snapshot{Layout: a.layout, Counts: counts, Free: free}
}

// Ref returns the count recorded for pa, or -1 if pa names no frame.
func (s Snapshot) Ref(pa physmem.PA) int {
	if !pa.Aligned() || uint64(pa) < s.Layout.KernBase {
		return -1
	}
	i := (uint64(pa) - s.Layout.KernBase) >> memlayout.PageShift
	if i >= uint64(len(s.Counts)) {
		return -1
	}
	return int(s.Counts[i])
}

// Shared returns the pages with more than one owner, ascending.
func (s Snapshot) Shared() []physmem.PA {
	var out []physmem.PA
	for i, c := range s.Counts {
		if c > 1 {
			out = append(out, physmem.PA(s.Layout.KernBase+uint64(i)<<memlayout.PageShift))
		}
	}
	return out
}

// Check verifies that a page is free exactly when nobody owns it, and that
// nothing below the kernel end is free. Take the snapshot while no FreePage is
// in flight: between its decrement and its push a page is neither.
func (s Snapshot) Check() error {
	free := make(map[physmem.PA]bool, len(s.Free))
	for _, pa := range s.Free {
		if free[pa] {
			return fmt.Errorf("kalloc: %v on free list twice", pa)
		}
		free[pa] = true
		if uint64(pa) < s.Layout.ManagedStart() || uint64(pa) >= s.Layout.PhysTop {
			return fmt.Errorf("kalloc: unmanaged page %v on free list", pa)
		}
		if c := s.Ref(pa); c != 0 {
			return fmt.Errorf("kalloc: free page %v has refcount %d", pa, c)
		}
	}
	for i, c := range s.Counts {
		pa := physmem.PA(s.Layout.KernBase + uint64(i)<<memlayout.PageShift)
		if c < 0 {
			return fmt.Errorf("kalloc: page %v has negative refcount %d", pa, c)
		}
		if c == 0 && !free[pa] && uint64(pa) >= s.Layout.ManagedStart() {
			return fmt.Errorf("kalloc: page %v leaked: no owner and not free", pa)
		}
	}
	return nil
}
