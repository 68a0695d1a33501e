// Package memlayout holds the machine constants shared by the physical memory
// packages: the page geometry, the poison bytes, and the boot-time address
// layout of RAM. The values follow the RISC-V board the teaching kernel targets,
// where RAM starts at KERNBASE and the kernel image is loaded at its base.
package memlayout

const (
	// PageShift is log2(PageSize). Shift a physical address right by
	// PageShift to get its page frame number.
	PageShift = 12

	// PageSize is the size of one physical page frame in bytes.
	PageSize = 1 << PageShift

	// PageMask selects the offset-within-page bits of an address.
	PageMask = PageSize - 1
)

const (
	// AllocPoison fills every page handed out by the allocator, so reads of
	// memory the caller never initialized return recognizable garbage.
	AllocPoison byte = 0x05

	// FreePoison fills every page returned to the free list, so reads through
	// a dangling reference return recognizable garbage.
	FreePoison byte = 0x01
)

const (
	// KernBase is the physical address where RAM begins and the kernel image
	// is loaded.
	KernBase uint64 = 0x80000000

	// DefaultRAMSize is the amount of RAM the board is configured with.
	DefaultRAMSize uint64 = 128 << 20

	// DefaultKernelSize approximates the size of the linked kernel image
	// (text, data and bss). It is deliberately not page-aligned, like the
	// linker's end symbol.
	DefaultKernelSize uint64 = 0x25b38

	// PhysTop is the first address past the end of the default RAM.
	PhysTop = KernBase + DefaultRAMSize
)
