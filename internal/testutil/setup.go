package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/physmem"
	"github.com/joshuapare/pagealloc/physmem/kalloc"
)

// KernelSize is the size of the kernel image in test layouts. It is
// deliberately not a multiple of the page size, like a real linker "end".
const KernelSize = memlayout.DefaultKernelSize

// Layout returns a layout with exactly pages whole pages above the kernel
// image.
func Layout(pages int) memlayout.Layout {
	l := memlayout.Layout{
		KernBase:  memlayout.KernBase,
		KernelEnd: memlayout.KernBase + KernelSize,
	}
	l.PhysTop = l.ManagedStart() + uint64(pages)*memlayout.PageSize
	return l
}

// SetupMemory maps RAM for layout and unmaps it when the test ends.
func SetupMemory(t testing.TB, layout memlayout.Layout) *physmem.Memory {
	t.Helper()

	mem, err := physmem.New(layout)
	require.NoError(t, err, "map RAM")
	t.Cleanup(func() {
		_ = mem.Close()
	})
	return mem
}

// SetupAllocator boots an allocator managing exactly pages pages.
//
// Example:
//
//	a := testutil.SetupAllocator(t, 3)
//	pa, ok := a.AllocPage()
func SetupAllocator(t testing.TB, pages int) *kalloc.Allocator {
	t.Helper()
	return SetupAllocatorWith(t, Layout(pages), nil)
}

// SetupAllocatorWith boots an allocator over layout with opts.
func SetupAllocatorWith(t testing.TB, layout memlayout.Layout, opts *kalloc.Options) *kalloc.Allocator {
	t.Helper()

	a, err := kalloc.New(SetupMemory(t, layout), opts)
	require.NoError(t, err, "boot allocator")
	return a
}

// RequireFilled fails the test unless every byte of b equals v.
func RequireFilled(t testing.TB, b []byte, v byte) {
	t.Helper()

	for i, got := range b {
		if got != v {
			t.Fatalf("byte %d = %#x, want %#x", i, got, v)
		}
	}
}

// RequireConsistent fails the test unless the allocator's tables agree: every
// free page has no owner and every page without one is free.
func RequireConsistent(t testing.TB, a *kalloc.Allocator) {
	t.Helper()
	require.NoError(t, a.Snapshot().Check())
}
