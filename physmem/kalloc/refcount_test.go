package kalloc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagealloc/physmem"
)

const testBase physmem.PA = 0x80000000

func TestRefTable_IncDecGet(t *testing.T) {
	rt := NewRefTable(testBase, testBase+4*4096)
	require.Equal(t, 4, rt.Len())

	pa := testBase + 2*4096
	n, err := rt.Get(pa)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, rt.Inc(pa))
	require.NoError(t, rt.Inc(pa))
	n, err = rt.Get(pa)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	last, err := rt.Dec(pa)
	require.NoError(t, err)
	require.False(t, last)

	last, err = rt.Dec(pa)
	require.NoError(t, err)
	require.True(t, last, "second decrement drops the last owner")

	// Neighbours are untouched.
	n, err = rt.Get(pa + 4096)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestRefTable_DecZero(t *testing.T) {
	rt := NewRefTable(testBase, testBase+4096)

	_, err := rt.Dec(testBase)
	require.ErrorIs(t, err, ErrZeroRefcount)

	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "DecRef", fe.Op)
	require.Equal(t, testBase, fe.Addr)

	n, err := rt.Get(testBase)
	require.NoError(t, err)
	require.Equal(t, 0, n, "a failed decrement leaves the count alone")
}

func TestRefTable_Overflow(t *testing.T) {
	rt := NewRefTable(testBase, testBase+4096)
	rt.set(0, math.MaxInt32)

	require.ErrorIs(t, rt.Inc(testBase), ErrRefOverflow)
	n, err := rt.Get(testBase)
	require.NoError(t, err)
	require.Equal(t, math.MaxInt32, n)
}

func TestRefTable_Check(t *testing.T) {
	rt := NewRefTable(testBase, testBase+2*4096)

	tests := []struct {
		name string
		pa   physmem.PA
		want error
	}{
		{"first frame", testBase, nil},
		{"last frame", testBase + 4096, nil},
		{"misaligned", testBase + 8, ErrMisaligned},
		{"below base", testBase - 4096, ErrOutOfRange},
		{"at top", testBase + 2*4096, ErrOutOfRange},
		{"misaligned and out of range", 1, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.check("GetRef", tt.pa)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			require.True(t, IsFatal(err))
		})
	}
}
