package kalloc

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/joshuapare/pagealloc/internal/buf"
	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/physmem"
)

// snapshotMagic opens every encoded snapshot ("kalsnap1").
const snapshotMagic uint64 = 0x6b616c736e617031

// snapshotHeaderInts is magic, three layout words, count and free lengths.
const snapshotHeaderInts = 6

// ErrBadSnapshot indicates an encoded snapshot that cannot be decoded.
var ErrBadSnapshot = errors.New("kalloc: bad snapshot")

// Encode serializes the snapshot. Every field is a little-endian 64-bit word:
//
//	magic | KernBase | KernelEnd | PhysTop | len(Counts) | len(Free)
//	Counts... | Free...
func (s Snapshot) Encode() []byte {
	words := snapshotHeaderInts + len(s.Counts) + len(s.Free)
	enc := marshal.NewEnc(uint64(words) * 8)
	enc.PutInt(snapshotMagic)
	enc.PutInt(s.Layout.KernBase)
	enc.PutInt(s.Layout.KernelEnd)
	enc.PutInt(s.Layout.PhysTop)
	enc.PutInt(uint64(len(s.Counts)))
	enc.PutInt(uint64(len(s.Free)))
	for _, c := range s.Counts {
		enc.PutInt(uint64(c))
	}
	for _, pa := range s.Free {
		enc.PutInt(uint64(pa))
	}
	return enc.Finish()
}

// DecodeSnapshot parses the output of Snapshot.Encode.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) < snapshotHeaderInts*8 || len(data)%8 != 0 {
		return Snapshot{}, fmt.Errorf("%w: %d bytes", ErrBadSnapshot, len(data))
	}
	dec := marshal.NewDec(data)
	if magic := dec.GetInt(); magic != snapshotMagic {
		return Snapshot{}, fmt.Errorf("%w: magic %#x", ErrBadSnapshot, magic)
	}
	var s Snapshot
	s.Layout = memlayout.Layout{
		KernBase:  dec.GetInt(),
		KernelEnd: dec.GetInt(),
		PhysTop:   dec.GetInt(),
	}
	if err := s.Layout.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	nCounts := dec.GetInt()
	nFree := dec.GetInt()
	if nCounts != uint64(s.Layout.Frames()) {
		return Snapshot{}, fmt.Errorf("%w: %d counts for %d frames", ErrBadSnapshot, nCounts, s.Layout.Frames())
	}
	words, ok := buf.AddU64(nCounts, nFree)
	if !ok || words != uint64(len(data)/8-snapshotHeaderInts) {
		return Snapshot{}, fmt.Errorf("%w: %d bytes for %d+%d entries", ErrBadSnapshot, len(data), nCounts, nFree)
	}

	s.Counts = make([]int32, nCounts)
	for i := range s.Counts {
		s.Counts[i] = int32(dec.GetInt())
	}
	s.Free = make([]physmem.PA, nFree)
	for i := range s.Free {
		s.Free[i] = physmem.PA(dec.GetInt())
	}
	return s, nil
}
