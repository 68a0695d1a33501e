package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pagealloc/internal/buf"
	"github.com/joshuapare/pagealloc/internal/logger"
	"github.com/joshuapare/pagealloc/internal/memlayout"
	"github.com/joshuapare/pagealloc/physmem"
	"github.com/joshuapare/pagealloc/physmem/kalloc"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	logLevel   string
	ramMiB     uint64
	kernelSize uint64
)

var rootCmd = &cobra.Command{
	Use:   "pagealloc",
	Short: "Boot and exercise a reference-counted physical page allocator",
	Long: `pagealloc boots the kernel's physical page allocator over a simulated
RAM arena and exercises it: allocation and sharing scenarios, concurrent
stress runs, statistics and binary snapshots of the allocator's tables.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "Log to stderr at this level (debug, info, warn, error)")
	rootCmd.PersistentFlags().
		Uint64Var(&ramMiB, "mem", memlayout.DefaultRAMSize>>20, "RAM size in MiB")
	rootCmd.PersistentFlags().
		Uint64Var(&kernelSize, "kernel-size", memlayout.DefaultKernelSize, "Bytes of RAM taken by the kernel image")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		if kalloc.IsFatal(err) {
			halt(err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exit is replaced in tests.
var exit = os.Exit

// halt stops the tool on an allocator usage error. Such an error means the
// tables can no longer be trusted, so nothing is cleaned up.
func halt(err error) {
	logger.Error("pagealloc: halt", "err", err)
	fmt.Fprintf(os.Stderr, "panic: %+v\n", err)
	exit(2)
}

func initLogging() {
	if logLevel == "" && !verbose {
		return
	}
	level := slog.LevelInfo
	if logLevel != "" {
		level = logger.ParseLevel(logLevel)
	}
	logger.Init(logger.Options{
		Enabled: true,
		Writer:  os.Stderr,
		JSON:    jsonOut,
		Level:   level,
	})
}

// bootLayout turns the global flags into a RAM layout.
func bootLayout() (memlayout.Layout, error) {
	size, ok := buf.MulU64(ramMiB, 1<<20)
	if ramMiB == 0 || !ok {
		return memlayout.Layout{}, fmt.Errorf("--mem %d MiB is not a usable RAM size", ramMiB)
	}
	layout := memlayout.ForRAM(size, kernelSize)
	if err := layout.Validate(); err != nil {
		return memlayout.Layout{}, fmt.Errorf("invalid layout: %w", err)
	}
	return layout, nil
}

// boot maps RAM and brings it under a fresh allocator. Usage errors come back
// as errors so execute can halt. The caller closes the returned memory when
// done with the allocator.
func boot() (*physmem.Memory, *kalloc.Allocator, error) {
	layout, err := bootLayout()
	if err != nil {
		return nil, nil, err
	}
	printVerbose("Booting: %s\n", layout)

	mem, err := physmem.New(layout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map RAM: %w", err)
	}
	a, err := kalloc.New(mem, &kalloc.Options{Logger: logger.L})
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to boot allocator: %w", err), mem.Close())
	}
	return mem, a, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
