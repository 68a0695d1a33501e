package memlayout

import (
	"fmt"

	"github.com/joshuapare/pagealloc/internal/buf"
)

// Layout describes physical RAM as the boot code sees it.
//
//	KernBase            KernelEnd                  PhysTop
//	   |  kernel image  |   managed by the allocator  |
type Layout struct {
	KernBase  uint64 // first byte of RAM
	KernelEnd uint64 // first byte after the kernel image (linker "end")
	PhysTop   uint64 // one past the last byte of RAM
}

// Default returns the layout of the board's default configuration.
func Default() Layout {
	return ForRAM(DefaultRAMSize, DefaultKernelSize)
}

// ForRAM returns a layout with ramSize bytes of RAM starting at KernBase, the
// first kernelSize bytes of which hold the kernel image.
func ForRAM(ramSize, kernelSize uint64) Layout {
	return Layout{
		KernBase:  KernBase,
		KernelEnd: KernBase + kernelSize,
		PhysTop:   KernBase + ramSize,
	}
}

// Validate checks the layout's boundaries.
func (l Layout) Validate() error {
	if !IsPageAligned(l.KernBase) || !IsPageAligned(l.PhysTop) {
		return fmt.Errorf("%w: base=%#x top=%#x", ErrUnaligned, l.KernBase, l.PhysTop)
	}
	if l.PhysTop <= l.KernBase {
		return fmt.Errorf("%w: base=%#x top=%#x", ErrEmpty, l.KernBase, l.PhysTop)
	}
	if l.KernelEnd < l.KernBase || l.KernelEnd > l.PhysTop {
		return fmt.Errorf("%w: end=%#x not in [%#x, %#x]", ErrOrder, l.KernelEnd, l.KernBase, l.PhysTop)
	}
	if _, ok := buf.AddU64(PageRoundUp(l.KernelEnd), PageSize); !ok {
		return fmt.Errorf("%w: end=%#x", ErrOverflow, l.KernelEnd)
	}
	return nil
}

// Size returns the number of bytes of RAM.
func (l Layout) Size() uint64 {
	return l.PhysTop - l.KernBase
}

// Frames returns the number of page frames in RAM, including those under the
// kernel image.
func (l Layout) Frames() int {
	return int(PageCount(l.Size()))
}

// ManagedStart returns the first page-aligned address above the kernel image.
func (l Layout) ManagedStart() uint64 {
	return PageRoundUp(l.KernelEnd)
}

// ManagedFrames returns the number of whole pages between the kernel image and
// the top of RAM.
func (l Layout) ManagedFrames() int {
	start := l.ManagedStart()
	if start >= l.PhysTop {
		return 0
	}
	return int(PageCount(l.PhysTop - start))
}

func (l Layout) String() string {
	return fmt.Sprintf("ram [%#x, %#x) kernel end %#x", l.KernBase, l.PhysTop, l.KernelEnd)
}
