package kalloc

import "github.com/joshuapare/pagealloc/physmem"

// PageAllocator is the contract the virtual-memory layer consumes.
//
// A page-table layer obtains backing pages with AllocPage and releases its
// ownership with FreePage. When it maps an already-allocated page at a second
// virtual address (sharing after fork, or a page inside a superpage run) it
// calls IncRef, and DecRef or FreePage when that mapping goes away.
type PageAllocator interface {
	// AllocPage returns a page owned once by the caller, or false when no
	// page is free.
	AllocPage() (physmem.PA, bool)

	// FreePage drops one ownership of pa, recycling the page when it was
	// the last one.
	FreePage(pa physmem.PA) error

	// IncRef records one more owner of pa.
	IncRef(pa physmem.PA) error

	// DecRef records one less owner of pa and reports whether none remain.
	// It never recycles the page; the caller does that with the result.
	DecRef(pa physmem.PA) (bool, error)

	// GetRef returns the number of owners of pa.
	GetRef(pa physmem.PA) (int, error)
}

var _ PageAllocator = (*Allocator)(nil)
