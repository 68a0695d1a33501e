package memlayout

import "errors"

var (
	// ErrUnaligned indicates a layout boundary that must be page-aligned is not.
	ErrUnaligned = errors.New("memlayout: boundary not page-aligned")

	// ErrEmpty indicates a layout with no RAM.
	ErrEmpty = errors.New("memlayout: empty RAM range")

	// ErrOrder indicates the kernel image does not sit inside RAM.
	ErrOrder = errors.New("memlayout: kernel end outside RAM")

	// ErrOverflow indicates the layout wraps the address space.
	ErrOverflow = errors.New("memlayout: address overflow")
)
