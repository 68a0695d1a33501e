package kalloc

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"github.com/joshuapare/pagealloc/internal/buf"
	"github.com/joshuapare/pagealloc/internal/logger"
	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/physmem"
)

// Runtime debug flag for per-operation logging - controlled by PAGEALLOC_LOG_ALLOC env var.
var logAlloc = os.Getenv("PAGEALLOC_LOG_ALLOC") != ""

// Options configures an Allocator. The zero value is usable.
type Options struct {
	// Logger receives boot summaries and fatal usage errors.
	// Default: logger.L.
	Logger *slog.Logger

	// Halt, if set, is called with every FatalError before it is returned.
	// It is the one place the policy for usage errors lives; PanicOnFatal is
	// the usual choice for code that must never continue past one.
	Halt func(error)
}

// Allocator hands out and reclaims the page frames of RAM above the kernel
// image. It is safe for concurrent use.
type Allocator struct {
	ram    []byte
	layout memlayout.Layout
	refs   *RefTable
	free   *FreeList

	managed int // frames registered at boot
	log     *slog.Logger
	halt    func(error)

	allocs    atomic.Uint64
	frees     atomic.Uint64
	exhausted atomic.Uint64
}

// New brings the RAM of mem under management: every whole page between the
// end of the kernel image and the top of RAM is registered and placed on the
// free list, filled with FreePoison. mem must outlive the allocator.
func New(mem *physmem.Memory, opts *Options) (*Allocator, error) {
	if opts == nil {
		opts = &Options{}
	}
	layout := mem.Layout()
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("kalloc: %w", err)
	}
	if uint64(layout.Frames()) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyFrames, layout.Frames())
	}
	ram := mem.Bytes()
	if uint64(len(ram)) != layout.Size() {
		return nil, fmt.Errorf("kalloc: arena is %d bytes, layout needs %d: %w",
			len(ram), layout.Size(), physmem.ErrClosed)
	}

	a := &Allocator{
		ram:    ram,
		layout: layout,
		refs:   NewRefTable(physmem.PA(layout.KernBase), physmem.PA(layout.PhysTop)),
		free:   NewFreeList(layout.ManagedFrames()),
		log:    opts.Logger,
		halt:   opts.Halt,
	}
	if a.log == nil {
		a.log = logger.L
	}

	n, err := a.freeRange(physmem.PA(layout.KernelEnd), physmem.PA(layout.PhysTop))
	if err != nil {
		return nil, fmt.Errorf("kalloc: register RAM: %w", err)
	}
	a.managed = n
	a.log.Info("kalloc: ready",
		"ram", layout.String(),
		"pages", n,
		"first", physmem.PA(layout.ManagedStart()))
	return a, nil
}

// freeRange registers every whole page in [start, end) and frees it, so boot
// goes through the same path as every later free. It returns the number of
// pages registered.
func (a *Allocator) freeRange(start, end physmem.PA) (int, error) {
	n := 0
	p := memlayout.PageRoundUp(uint64(start))
	for {
		next, ok := buf.AddU64(p, memlayout.PageSize)
		if !ok || next > uint64(end) {
			break
		}
		frame, err := a.refs.check("freeRange", physmem.PA(p))
		if err != nil {
			return n, err
		}
		a.refs.set(frame, 1)
		if err := a.FreePage(physmem.PA(p)); err != nil {
			return n, err
		}
		n++
		p = next
	}
	a.log.Debug("kalloc: freerange", "start", start, "end", end, "pages", n)
	return n, nil
}

// AllocPage takes a page off the free list. The page comes back owned once by
// the caller and filled with AllocPoison. AllocPage reports false when no page
// is free; that is an ordinary outcome the caller must handle.
func (a *Allocator) AllocPage() (physmem.PA, bool) {
	// Free list lock, then refcount lock: the only place both are held.
	frame, ok := a.free.Pop(func(frame uint32) {
		a.refs.set(frame, 1)
	})
	if !ok {
		a.exhausted.Add(1)
		if logAlloc {
			a.log.Debug("kalloc: out of pages")
		}
		return 0, false
	}

	buf.Fill(a.frameBytes(frame), memlayout.AllocPoison)
	a.allocs.Add(1)

	pa := a.frameAddr(frame)
	if logAlloc {
		a.log.Debug("kalloc: alloc", "pa", pa)
	}
	return pa, true
}

// FreePage drops one ownership of the page at pa. When it was the last one the
// page is filled with FreePoison and goes back on the free list; otherwise the
// page and its contents are left alone for the remaining owners.
func (a *Allocator) FreePage(pa physmem.PA) error {
	if !pa.Aligned() {
		return a.fatal(newFatal("FreePage", pa, ErrMisaligned))
	}
	if uint64(pa) < a.layout.KernelEnd || uint64(pa) >= a.layout.PhysTop {
		return a.fatal(newFatal("FreePage", pa, ErrInvalidFree))
	}

	last, err := a.refs.dec("FreePage", pa)
	if err != nil {
		return a.fatal(err)
	}
	if !last {
		if logAlloc {
			a.log.Debug("kalloc: free shared", "pa", pa)
		}
		return nil
	}

	// The page is on no list and owned by nobody, so nothing else can reach
	// it between the decrement and the push.
	frame := a.frameOf(pa)
	buf.Fill(a.frameBytes(frame), memlayout.FreePoison)
	a.free.Push(frame)
	a.frees.Add(1)
	if logAlloc {
		a.log.Debug("kalloc: free", "pa", pa)
	}
	return nil
}

// IncRef records one more owner of the page at pa, e.g. a second mapping
// after fork. It must not be called on a page whose last owner has freed it.
func (a *Allocator) IncRef(pa physmem.PA) error {
	if err := a.refs.Inc(pa); err != nil {
		return a.fatal(err)
	}
	return nil
}

// DecRef records one less owner of the page at pa and reports whether none
// remain. It never recycles the page; most callers want FreePage instead.
func (a *Allocator) DecRef(pa physmem.PA) (bool, error) {
	last, err := a.refs.Dec(pa)
	if err != nil {
		return false, a.fatal(err)
	}
	return last, nil
}

// GetRef returns the number of owners of the page at pa. Free pages have
// none.
func (a *Allocator) GetRef(pa physmem.PA) (int, error) {
	n, err := a.refs.Get(pa)
	if err != nil {
		return 0, a.fatal(err)
	}
	return n, nil
}

// Page returns the bytes of the page at pa through the direct map. The slice
// is only meaningful while the caller owns the page.
func (a *Allocator) Page(pa physmem.PA) ([]byte, error) {
	frame, err := a.refs.check("Page", pa)
	if err != nil {
		return nil, a.fatal(err)
	}
	return a.frameBytes(frame), nil
}

// Layout returns the RAM layout the allocator manages.
func (a *Allocator) Layout() memlayout.Layout { return a.layout }

// FreeCount returns the number of pages on the free list.
func (a *Allocator) FreeCount() int { return a.free.Len() }

// ManagedCount returns the number of pages registered at boot.
func (a *Allocator) ManagedCount() int { return a.managed }

func (a *Allocator) fatal(err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		a.log.Error("kalloc: usage error", "op", fe.Op, "pa", fe.Addr, "err", fe.Kind)
	}
	if a.halt != nil {
		a.halt(err)
	}
	return err
}

func (a *Allocator) frameOf(pa physmem.PA) uint32 {
	return uint32((uint64(pa) - a.layout.KernBase) >> memlayout.PageShift)
}

func (a *Allocator) frameAddr(frame uint32) physmem.PA {
	return physmem.PA(a.layout.KernBase + uint64(frame)<<memlayout.PageShift)
}

func (a *Allocator) frameBytes(frame uint32) []byte {
	off := int(frame) << memlayout.PageShift
	return a.ram[off : off+memlayout.PageSize : off+memlayout.PageSize]
}
