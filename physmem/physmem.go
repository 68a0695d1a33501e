// Package physmem models the machine's physical RAM. A Memory owns an arena
// of bytes standing in for RAM and translates physical addresses into slices
// of it, the way a kernel's direct map does.
package physmem

import (
	"errors"
	"fmt"
	"math"

	"github.com/joshuapare/pagealloc/internal/buf"
	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/internal/mmarena"
)

var (
	// ErrBadAddr indicates a physical address outside RAM or not page-aligned.
	ErrBadAddr = errors.New("physmem: bad physical address")

	// ErrClosed indicates use of a Memory after Close.
	ErrClosed = errors.New("physmem: memory closed")

	// ErrTooLarge indicates a layout too large to back on this host.
	ErrTooLarge = errors.New("physmem: RAM too large to map")
)

// PA is a physical address.
type PA uint64

// Aligned reports whether pa is on a page boundary.
func (pa PA) Aligned() bool { return memlayout.IsPageAligned(uint64(pa)) }

func (pa PA) String() string { return fmt.Sprintf("%#x", uint64(pa)) }

// Memory is the RAM of one machine, addressed by PA.
type Memory struct {
	layout  memlayout.Layout
	data    []byte
	release func() error
}

// New maps an arena for the RAM described by layout. The arena starts zeroed.
func New(layout memlayout.Layout) (*Memory, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("physmem: %w", err)
	}
	size := layout.Size()
	if size > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	data, release, err := mmarena.Map(int(size))
	if err != nil {
		return nil, fmt.Errorf("physmem: %w", err)
	}
	return &Memory{layout: layout, data: data, release: release}, nil
}

// Layout returns the address layout of this RAM.
func (m *Memory) Layout() memlayout.Layout { return m.layout }

// Bytes returns the whole arena. Byte i of the arena is physical address
// KernBase+i.
func (m *Memory) Bytes() []byte { return m.data }

// Contains reports whether pa lies in RAM.
func (m *Memory) Contains(pa PA) bool {
	return uint64(pa) >= m.layout.KernBase && uint64(pa) < m.layout.PhysTop
}

// Frame returns the bytes of the page frame at pa.
func (m *Memory) Frame(pa PA) ([]byte, error) {
	if m.data == nil {
		return nil, ErrClosed
	}
	if !pa.Aligned() || !m.Contains(pa) {
		return nil, fmt.Errorf("%w: %v", ErrBadAddr, pa)
	}
	if _, err := buf.CheckSpan(uint64(pa), memlayout.PageSize, m.layout.PhysTop); err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrBadAddr, pa, err)
	}
	off := int(uint64(pa) - m.layout.KernBase)
	frame, ok := buf.Slice(m.data, off, memlayout.PageSize)
	if !ok {
		return nil, fmt.Errorf("%w: %v beyond arena", ErrBadAddr, pa)
	}
	return frame, nil
}

// Fill sets every byte of the page frame at pa to v.
func (m *Memory) Fill(pa PA, v byte) error {
	frame, err := m.Frame(pa)
	if err != nil {
		return err
	}
	buf.Fill(frame, v)
	return nil
}

// Close releases the arena. Frames obtained earlier must not be used after.
func (m *Memory) Close() error {
	if m.data == nil {
		return nil
	}
	m.data = nil
	return m.release()
}
