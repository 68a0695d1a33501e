package main

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagealloc/internal/testutil"
	"github.com/joshuapare/pagealloc/physmem/kalloc"
)

func TestStatsCommand(t *testing.T) {
	resetFlags(t)

	out, err := captureOutput(t, func() error { return runStats(nil) })
	require.NoError(t, err)
	assert.Contains(t, out, "Allocator Statistics")
	assert.Contains(t, out, "Managed: 218")
	assert.Contains(t, out, "Frames: 256 of 4.0 KiB")
	assert.Contains(t, out, "1.0 MiB")

	jsonOut = true
	out, err = captureOutput(t, func() error { return runStats(nil) })
	require.NoError(t, err)

	var stats AllocatorStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "0x80000000", stats.KernBase)
	assert.Equal(t, "0x80025b38", stats.KernelEnd)
	assert.Equal(t, "0x80100000", stats.PhysTop)
	assert.Equal(t, 256, stats.Frames)
	assert.Equal(t, testManagedPages, stats.ManagedPages)
	assert.Equal(t, testManagedPages, stats.FreePages)
	assert.Zero(t, stats.AllocatedPages)
}

func TestStatsCommand_LargeNumbers(t *testing.T) {
	resetFlags(t)
	ramMiB = 64

	out, err := captureOutput(t, func() error { return runStats(nil) })
	require.NoError(t, err)
	assert.Contains(t, out, "Frames: 16,384")
}

func TestBootLayout_Invalid(t *testing.T) {
	resetFlags(t)

	ramMiB = 0
	_, err := bootLayout()
	require.Error(t, err)

	ramMiB = math.MaxUint64 >> 10
	_, err = bootLayout()
	require.Error(t, err, "byte size overflows")

	ramMiB = 1<<44 - 1
	_, err = bootLayout()
	require.Error(t, err, "RAM wraps past the top of the address space")

	ramMiB = 1
	kernelSize = 2 << 20
	_, err = bootLayout()
	require.Error(t, err, "kernel larger than RAM")
}

func TestScenarioCommand(t *testing.T) {
	resetFlags(t)

	out, err := captureOutput(t, func() error { return runScenario(nil) })
	require.NoError(t, err)
	for _, s := range scenarios {
		assert.Contains(t, out, "PASS "+s.name)
	}
	assert.Contains(t, out, "218 pages")

	jsonOut = true
	out, err = captureOutput(t, func() error { return runScenario([]string{"fork-share", "double-free"}) })
	require.NoError(t, err)

	var results []ScenarioResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Passed, "%s: %s", r.Name, r.Detail)
	}
	assert.Contains(t, results[1].Detail, "zero refcount")
}

func TestScenarioCommand_Unknown(t *testing.T) {
	resetFlags(t)

	err := runScenario([]string{"exhaust", "no-such"})
	require.ErrorContains(t, err, `unknown scenario "no-such"`)
}

func TestScenarioCommand_TinyRAM(t *testing.T) {
	resetFlags(t)
	kernelSize = testRAMMiB << 20

	// No managed pages: scenarios that need a page fail instead of halting.
	_, err := captureOutput(t, func() error { return runScenario([]string{"exhaust", "fork-share"}) })
	require.ErrorContains(t, err, "1 of 2 scenario(s) failed")
}

func TestStressCommand(t *testing.T) {
	resetFlags(t)
	jsonOut = true

	out, err := captureOutput(t, func() error { return runStress(nil) })
	require.NoError(t, err)

	var res StressResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 4, res.Workers)
	assert.Equal(t, int64(2000), res.Ops)
	assert.Equal(t, testManagedPages, res.Final.FreePages)
	assert.Equal(t, testManagedPages, res.Final.ManagedPages)
	assert.Positive(t, res.Final.Allocs)
}

func TestStressCommand_Exhaustion(t *testing.T) {
	resetFlags(t)
	quiet = true
	stressWorkers, stressOps, stressHold = 8, 4000, 64

	// 8 workers holding up to 64 references each outgrow 218 pages.
	_, err := captureOutput(t, func() error { return runStress(nil) })
	require.NoError(t, err)
}

func TestStressCommand_BadFlags(t *testing.T) {
	resetFlags(t)
	stressWorkers = 0
	require.Error(t, runStress(nil))
}

func TestDumpInspect(t *testing.T) {
	resetFlags(t)
	dumpOut = filepath.Join(t.TempDir(), "busy.snap")
	dumpAlloc, dumpShare = 5, 2

	out, err := captureOutput(t, func() error { return runDump(nil) })
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+dumpOut)

	jsonOut = true
	out, err = captureOutput(t, func() error { return runInspect([]string{dumpOut}) })
	require.NoError(t, err)

	var sum SnapshotSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.True(t, sum.Valid)
	assert.Equal(t, 256, sum.Frames)
	assert.Equal(t, testManagedPages-5, sum.Free)
	assert.Equal(t, 5, sum.Owned)
	assert.Len(t, sum.Shared, 2)
}

func TestDump_BadFlags(t *testing.T) {
	resetFlags(t)
	dumpOut = filepath.Join(t.TempDir(), "x.snap")
	dumpAlloc, dumpShare = 1, 2
	require.Error(t, runDump(nil))

	dumpAlloc, dumpShare = testManagedPages+1, 0
	require.ErrorContains(t, runDump(nil), "out of pages")
}

func TestInspect_Corrupt(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.snap")
	require.NoError(t, os.WriteFile(garbage, []byte("not a snapshot"), 0o644))
	require.ErrorIs(t, runInspect([]string{garbage}), kalloc.ErrBadSnapshot)

	a := testutil.SetupAllocator(t, 4)
	snap := a.Snapshot()
	snap.Free = snap.Free[1:] // leak a page
	leaked := filepath.Join(dir, "leaked.snap")
	require.NoError(t, os.WriteFile(leaked, snap.Encode(), 0o644))

	jsonOut = true
	out, err := captureOutput(t, func() error { return runInspect([]string{leaked}) })
	require.ErrorContains(t, err, "inconsistent")

	var sum SnapshotSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.False(t, sum.Valid)
	assert.Contains(t, sum.Error, "leaked")
}

func TestHalt(t *testing.T) {
	resetFlags(t)

	code := -1
	orig := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = orig })

	a := testutil.SetupAllocator(t, 1)
	err := a.IncRef(1)
	require.True(t, kalloc.IsFatal(err))

	halt(err)
	require.Equal(t, 2, code)
}
