package kalloc

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/joshuapare/pagealloc/physmem"
)

var (
	// ErrMisaligned indicates a physical address that is not page-aligned.
	ErrMisaligned = errors.New("kalloc: page not aligned")

	// ErrOutOfRange indicates a physical address outside managed RAM.
	ErrOutOfRange = errors.New("kalloc: page out of range")

	// ErrZeroRefcount indicates a decrement of a page nobody owns (double free).
	ErrZeroRefcount = errors.New("kalloc: zero refcount")

	// ErrInvalidFree indicates a free of a page below the end of the kernel
	// image or beyond the top of RAM.
	ErrInvalidFree = errors.New("kalloc: invalid free target")

	// ErrRefOverflow indicates a reference count that would no longer fit.
	ErrRefOverflow = errors.New("kalloc: refcount overflow")

	// ErrTooManyFrames indicates RAM with more frames than the tables index.
	ErrTooManyFrames = errors.New("kalloc: too many page frames")
)

// FatalError is a usage error: a caller handed the allocator an address or a
// sequence of calls that can only come from a bug. The allocator's tables are
// left untouched when one is reported, but the caller must not carry on; the
// surrounding kernel turns it into a halt.
type FatalError struct {
	Op   string     // allocator operation that detected the error
	Addr physmem.PA // offending physical address
	Kind error      // one of the sentinel errors above

	cause error // Kind with the stack at the point of detection
}

func newFatal(op string, pa physmem.PA, kind error) *FatalError {
	return &FatalError{
		Op:    op,
		Addr:  pa,
		Kind:  kind,
		cause: pkgerrors.WithStack(kind),
	}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Op, e.Addr, e.Kind)
}

// Unwrap exposes Kind, so errors.Is(err, ErrMisaligned) and friends work.
func (e *FatalError) Unwrap() error { return e.cause }

// Format prints the stack of the point of detection under %+v.
func (e *FatalError) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		fmt.Fprintf(s, "%s %v: %+v", e.Op, e.Addr, e.cause)
	case verb == 'q':
		fmt.Fprintf(s, "%q", e.Error())
	default:
		fmt.Fprint(s, e.Error())
	}
}

// IsFatal reports whether err is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// PanicOnFatal is a halt policy that stops the calling goroutine with the
// error. Install it with Options.Halt where a usage error must never return.
func PanicOnFatal(err error) {
	panic(err)
}
