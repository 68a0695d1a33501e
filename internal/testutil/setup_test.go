package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagealloc/internal/memlayout"
)

func TestLayout(t *testing.T) {
	l := Layout(3)
	require.NoError(t, l.Validate())
	require.Equal(t, 3, l.ManagedFrames())
	require.False(t, memlayout.IsPageAligned(l.KernelEnd))
}

func TestSetupAllocator(t *testing.T) {
	a := SetupAllocator(t, 4)
	require.Equal(t, 4, a.ManagedCount())
	require.Equal(t, 4, a.FreeCount())
	RequireConsistent(t, a)
}
