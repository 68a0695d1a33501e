// Package kalloc provides the physical page allocator: it hands out the page
// frames of RAM above the kernel image and takes them back once nobody uses
// them.
//
// # Overview
//
// Every page is either free, sitting on the free list with no owners, or
// allocated, with a reference count of at least one. A page can have several
// owners at once because the virtual-memory layer may map one physical page
// into many address spaces, e.g. when fork shares pages copy-on-write. The
// allocator frees a page exactly once, when its last owner lets go.
//
// # Operations
//
//   - AllocPage(): take a page; it starts with exactly one owner
//   - FreePage(pa): drop one ownership; recycle the page if it was the last
//   - IncRef(pa): one more owner (a second mapping of the page)
//   - DecRef(pa): one less owner; report whether none remain
//   - GetRef(pa): current number of owners
//
// # Usage Example
//
//	mem, err := physmem.New(memlayout.Default())
//	if err != nil {
//	    return err
//	}
//	ka, err := kalloc.New(mem, nil)
//	if err != nil {
//	    return err
//	}
//
//	pa, ok := ka.AllocPage()
//	if !ok {
//	    return errNoMemory // exhaustion is not fatal
//	}
//
//	// fork: the child maps the same page
//	if err := ka.IncRef(pa); err != nil {
//	    halt(err)
//	}
//
//	// each address space drops its mapping
//	_ = ka.FreePage(pa) // still owned by the other one
//	_ = ka.FreePage(pa) // recycled
//
// # Poisoning
//
// A page handed out by AllocPage is filled with memlayout.AllocPoison (0x05)
// and a page put back on the free list is filled with memlayout.FreePoison
// (0x01), so reads of uninitialized memory and reads through stale references
// both return recognizable garbage. A FreePage that leaves other owners does
// not touch the page.
//
// # Usage Errors
//
// Misaligned addresses, addresses outside RAM, frees of pages under the kernel
// image and decrements of a zero count are bugs in the caller. They come back
// as *FatalError and leave the allocator unchanged, but the caller must stop;
// Options.Halt installs the policy that does so. Running out of pages is not
// an error: AllocPage reports false.
//
// # Thread Safety
//
// An Allocator is safe for concurrent use. The free list and the reference
// counts each have their own lock. AllocPage is the only operation that holds
// both, always free list first; FreePage releases the count lock before it
// takes the free list lock. Poisoning happens outside both locks.
//
// # Related Packages
//
//   - github.com/joshuapare/pagealloc/physmem: the RAM arena and PA type
//   - github.com/joshuapare/pagealloc/internal/memlayout: page geometry and layout
package kalloc
