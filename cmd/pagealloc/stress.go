package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/pagealloc/physmem"
	"github.com/joshuapare/pagealloc/physmem/kalloc"
)

var (
	stressWorkers int
	stressOps     int
	stressHold    int
	stressSeed    uint64
)

// progressBatch is how many operations a worker completes between progress
// bar updates.
const progressBatch = 256

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressWorkers, "workers", runtime.GOMAXPROCS(0), "Number of concurrent workers")
	cmd.Flags().IntVar(&stressOps, "ops", 100000, "Total number of allocator operations")
	cmd.Flags().IntVar(&stressHold, "hold", 32, "Most page references a worker holds at once")
	cmd.Flags().Uint64Var(&stressSeed, "seed", 1, "Seed for the workers' random choices")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent alloc/share/free workload",
		Long: `The stress command runs workers that allocate pages, share pages they
hold, and free them again, all at once. Each worker stamps the pages it
allocates and checks the stamp before every free, so a page handed to two
owners is caught. At the end every page must be back in the pool.

Example:
  pagealloc stress
  pagealloc stress --workers 16 --ops 1000000 --mem 16`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(args)
		},
	}
	return cmd
}

// StressResult summarizes a stress run.
type StressResult struct {
	Workers  int
	Ops      int64
	Duration time.Duration
	OpsPerS  float64
	Final    kalloc.Stats
}

func runStress(args []string) error {
	if stressWorkers < 1 || stressOps < 1 || stressHold < 1 {
		return errors.New("--workers, --ops and --hold must be positive")
	}
	mem, a, err := boot()
	if err != nil {
		return err
	}
	defer mem.Close()

	bar := progressbar.NewOptions(stressOps,
		progressbar.OptionSetDescription("stress"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetVisibility(!quiet && !jsonOut),
	)

	var (
		ops  atomic.Int64
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := time.Now()
	for w := range stressWorkers {
		n := stressOps / stressWorkers
		if w < stressOps%stressWorkers {
			n++
		}
		wg.Add(1)
		go func(w, n int) {
			defer wg.Done()
			sw := &stressWorker{
				a:     a,
				rng:   rand.New(rand.NewPCG(stressSeed, uint64(w))),
				stamp: byte(0x10 + w%0xe0),
				hold:  stressHold,
			}
			if err := sw.run(n, func(done int) {
				ops.Add(int64(done))
				_ = bar.Add(done)
			}); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("worker %d: %w", w, err))
				mu.Unlock()
			}
		}(w, n)
	}
	wg.Wait()
	_ = bar.Finish()
	elapsed := time.Since(start)

	if err := errors.Join(errs...); err != nil {
		return err
	}

	res := StressResult{
		Workers:  stressWorkers,
		Ops:      ops.Load(),
		Duration: elapsed,
		OpsPerS:  float64(ops.Load()) / elapsed.Seconds(),
		Final:    a.Stats(),
	}
	if res.Final.FreePages != res.Final.ManagedPages {
		return fmt.Errorf("%d of %d pages free after the run", res.Final.FreePages, res.Final.ManagedPages)
	}
	if err := a.Snapshot().Check(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(res)
	}
	p := message.NewPrinter(language.English)
	printInfo("Workers: %d\n", res.Workers)
	printInfo("Operations: %s in %s (%s/s)\n",
		p.Sprintf("%d", res.Ops), res.Duration.Round(time.Millisecond), p.Sprintf("%.0f", res.OpsPerS))
	printInfo("Allocations: %s (%s failed on an empty pool)\n",
		p.Sprintf("%d", res.Final.Allocs), p.Sprintf("%d", res.Final.Exhausted))
	printInfo("Pages free: %s of %s\n",
		p.Sprintf("%d", res.Final.FreePages), p.Sprintf("%d", res.Final.ManagedPages))
	return nil
}

// stressWorker holds page references on behalf of one simulated process.
// A page shared with IncRef appears in held once per reference.
type stressWorker struct {
	a     *kalloc.Allocator
	rng   *rand.Rand
	stamp byte
	hold  int
	held  []physmem.PA
}

func (w *stressWorker) run(n int, progress func(int)) error {
	pending := 0
	for range n {
		if err := w.step(); err != nil {
			return err
		}
		if pending++; pending == progressBatch {
			progress(pending)
			pending = 0
		}
	}
	progress(pending)

	for len(w.held) > 0 {
		if err := w.release(len(w.held) - 1); err != nil {
			return err
		}
	}
	return nil
}

func (w *stressWorker) step() error {
	switch r := w.rng.IntN(10); {
	case len(w.held) == 0 || (r < 5 && len(w.held) < w.hold):
		pa, ok := w.a.AllocPage()
		if !ok {
			return nil
		}
		page, err := w.a.Page(pa)
		if err != nil {
			return err
		}
		for i := range page {
			page[i] = w.stamp
		}
		w.held = append(w.held, pa)
	case r < 7 && len(w.held) < w.hold:
		pa := w.held[w.rng.IntN(len(w.held))]
		if err := w.a.IncRef(pa); err != nil {
			return err
		}
		w.held = append(w.held, pa)
	default:
		return w.release(w.rng.IntN(len(w.held)))
	}
	return nil
}

// release drops the reference held[i], checking the page still carries the
// worker's stamp.
func (w *stressWorker) release(i int) error {
	pa := w.held[i]
	page, err := w.a.Page(pa)
	if err != nil {
		return err
	}
	for off, b := range page {
		if b != w.stamp {
			return fmt.Errorf("page %v byte %d = %#x, want %#x: page has another owner", pa, off, b, w.stamp)
		}
	}
	w.held[i] = w.held[len(w.held)-1]
	w.held = w.held[:len(w.held)-1]
	return w.a.FreePage(pa)
}
