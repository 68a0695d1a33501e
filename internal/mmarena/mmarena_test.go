package mmarena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapZeroed(t *testing.T) {
	const size = 16 * 4096
	data, release, err := Map(size)
	require.NoError(t, err)
	require.Len(t, data, size)

	for i := 0; i < size; i += 512 {
		require.Zero(t, data[i], "byte %d", i)
	}

	data[0] = 0xde
	data[size-1] = 0xad
	require.Equal(t, byte(0xde), data[0])
	require.Equal(t, byte(0xad), data[size-1])

	require.NoError(t, release())
	require.NoError(t, release(), "second release is a no-op")
}

func TestMapInvalidSize(t *testing.T) {
	_, _, err := Map(0)
	require.Error(t, err)

	_, _, err = Map(-4096)
	require.Error(t, err)
}
