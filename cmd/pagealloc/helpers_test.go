package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/joshuapare/pagealloc/internal/memlayout"
)

// testRAMMiB keeps command tests small: 256 frames, 218 of them managed.
const (
	testRAMMiB       = 1
	testManagedPages = 218
)

// resetFlags puts every global flag back to its default for one test.
func resetFlags(t *testing.T) {
	t.Helper()
	verbose, quiet, jsonOut = false, false, false
	logLevel = ""
	ramMiB = testRAMMiB
	kernelSize = memlayout.DefaultKernelSize
	stressWorkers, stressOps, stressHold, stressSeed = 4, 2000, 8, 1
	dumpOut, dumpAlloc, dumpShare = "", 0, 0
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}
