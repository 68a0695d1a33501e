package kalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/internal/testutil"
	"github.com/joshuapare/pagealloc/physmem"
	"github.com/joshuapare/pagealloc/physmem/kalloc"
)

func sharedSnapshot(t *testing.T) (kalloc.Snapshot, physmem.PA, physmem.PA) {
	t.Helper()
	a := testutil.SetupAllocator(t, 4)

	p, ok := a.AllocPage()
	require.True(t, ok)
	q, ok := a.AllocPage()
	require.True(t, ok)
	require.NoError(t, a.IncRef(q))
	return a.Snapshot(), p, q
}

func TestSnapshot_Contents(t *testing.T) {
	layout := testutil.Layout(4)
	snap, p, q := sharedSnapshot(t)

	require.Equal(t, layout, snap.Layout)
	require.Len(t, snap.Counts, layout.Frames())
	require.Len(t, snap.Free, 2)
	require.IsIncreasing(t, snap.Free)

	require.Equal(t, 1, snap.Ref(p))
	require.Equal(t, 2, snap.Ref(q))
	require.Equal(t, 0, snap.Ref(snap.Free[0]))
	require.Equal(t, 0, snap.Ref(physmem.PA(layout.KernBase)))
	require.Equal(t, -1, snap.Ref(physmem.PA(layout.PhysTop)))
	require.Equal(t, -1, snap.Ref(p+1))
	require.Equal(t, -1, snap.Ref(physmem.PA(layout.KernBase-memlayout.PageSize)))

	require.Equal(t, []physmem.PA{q}, snap.Shared())
	require.NoError(t, snap.Check())
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	snap, _, _ := sharedSnapshot(t)

	data := snap.Encode()
	require.Len(t, data, 8*(6+len(snap.Counts)+len(snap.Free)))

	got, err := kalloc.DecodeSnapshot(data)
	require.NoError(t, err)
	require.Equal(t, snap, got)
	require.NoError(t, got.Check())
}

func TestSnapshot_DecodeErrors(t *testing.T) {
	snap, _, _ := sharedSnapshot(t)
	good := snap.Encode()

	corrupt := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", good[:40]},
		{"ragged", good[:len(good)-3]},
		{"truncated", good[:len(good)-8]},
		{"trailing", append(append([]byte(nil), good...), make([]byte, 8)...)},
		{"bad magic", corrupt(func(b []byte) []byte { b[0] ^= 0xff; return b })},
		{"bad layout", corrupt(func(b []byte) []byte { b[8] = 0x01; return b })},
		{"count mismatch", corrupt(func(b []byte) []byte { b[32]++; return b })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kalloc.DecodeSnapshot(tt.data)
			require.ErrorIs(t, err, kalloc.ErrBadSnapshot)
		})
	}
}

func TestSnapshot_Check(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(s *kalloc.Snapshot, p, q physmem.PA)
		msg     string
	}{
		{"free page owned", func(s *kalloc.Snapshot, _, _ physmem.PA) {
			s.Counts[frameIndex(s, s.Free[0])] = 1
		}, "has refcount 1"},
		{"free twice", func(s *kalloc.Snapshot, _, _ physmem.PA) {
			s.Free = append(s.Free, s.Free[0])
		}, "twice"},
		{"kernel page free", func(s *kalloc.Snapshot, _, _ physmem.PA) {
			s.Free = append(s.Free, physmem.PA(s.Layout.KernBase))
		}, "unmanaged"},
		{"leaked", func(s *kalloc.Snapshot, p, _ physmem.PA) {
			s.Counts[frameIndex(s, p)] = 0
		}, "leaked"},
		{"negative", func(s *kalloc.Snapshot, _, q physmem.PA) {
			s.Counts[frameIndex(s, q)] = -1
		}, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, p, q := sharedSnapshot(t)
			tt.corrupt(&snap, p, q)
			err := snap.Check()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func frameIndex(s *kalloc.Snapshot, pa physmem.PA) int {
	return int((uint64(pa) - s.Layout.KernBase) >> memlayout.PageShift)
}
