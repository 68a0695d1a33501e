package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pagealloc/physmem"
	"github.com/joshuapare/pagealloc/physmem/kalloc"
)

// scenario runs one allocator exercise against a freshly booted allocator and
// returns a one-line summary.
type scenario struct {
	name  string
	about string
	run   func(a *kalloc.Allocator) (string, error)
}

var scenarios = []scenario{
	{"exhaust", "allocate until the pool is empty, then give everything back", scenarioExhaust},
	{"roundtrip", "allocate everything, free everything, allocate everything again", scenarioRoundTrip},
	{"fork-share", "a page shared by two owners survives one free", scenarioForkShare},
	{"double-free", "freeing an unowned page is rejected", scenarioDoubleFree},
	{"misaligned", "a misaligned address is rejected", scenarioMisaligned},
}

func init() {
	rootCmd.AddCommand(newScenarioCmd())
}

func newScenarioCmd() *cobra.Command {
	var names []string
	for _, s := range scenarios {
		names = append(names, fmt.Sprintf("  %-12s %s", s.name, s.about))
	}
	cmd := &cobra.Command{
		Use:   "scenario [name...]",
		Short: "Run built-in allocator scenarios",
		Long: `The scenario command boots a fresh allocator for each named scenario
and checks the allocator behaves as documented. With no names every scenario
runs. Scenarios:
` + strings.Join(names, "\n") + `

Example:
  pagealloc scenario
  pagealloc scenario fork-share double-free --mem 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(args)
		},
	}
	return cmd
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name   string
	Passed bool
	Detail string
}

func runScenario(args []string) error {
	selected, err := selectScenarios(args)
	if err != nil {
		return err
	}

	results := make([]ScenarioResult, 0, len(selected))
	failed := 0
	for _, s := range selected {
		printVerbose("Running %s\n", s.name)
		detail, err := runOne(s)
		res := ScenarioResult{Name: s.name, Passed: err == nil, Detail: detail}
		if err != nil {
			res.Detail = err.Error()
			failed++
		}
		results = append(results, res)
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Passed {
				printInfo("PASS %-12s %s\n", r.Name, r.Detail)
			} else {
				printError("FAIL %-12s %s\n", r.Name, r.Detail)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenario(s) failed", failed, len(results))
	}
	return nil
}

func selectScenarios(args []string) ([]scenario, error) {
	if len(args) == 0 {
		return scenarios, nil
	}
	var out []scenario
	for _, name := range args {
		i := slices.IndexFunc(scenarios, func(s scenario) bool { return s.name == name })
		if i < 0 {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, scenarios[i])
	}
	return out, nil
}

func runOne(s scenario) (string, error) {
	mem, a, err := boot()
	if err != nil {
		return "", err
	}
	defer mem.Close()

	detail, err := s.run(a)
	if err != nil {
		return "", err
	}
	if err := a.Snapshot().Check(); err != nil {
		return "", err
	}
	return detail, nil
}

// drain allocates until the pool is empty and checks every page it gets.
func drain(a *kalloc.Allocator) ([]physmem.PA, error) {
	var pages []physmem.PA
	seen := make(map[physmem.PA]bool)
	for {
		pa, ok := a.AllocPage()
		if !ok {
			break
		}
		if !pa.Aligned() {
			return nil, fmt.Errorf("allocated misaligned page %v", pa)
		}
		if seen[pa] {
			return nil, fmt.Errorf("page %v handed out twice", pa)
		}
		seen[pa] = true
		if n, err := a.GetRef(pa); err != nil || n != 1 {
			return nil, fmt.Errorf("fresh page %v has refcount %d (%v)", pa, n, err)
		}
		pages = append(pages, pa)
	}
	return pages, nil
}

func freeAll(a *kalloc.Allocator, pages []physmem.PA) error {
	for _, pa := range pages {
		if err := a.FreePage(pa); err != nil {
			return err
		}
	}
	return nil
}

func scenarioExhaust(a *kalloc.Allocator) (string, error) {
	pages, err := drain(a)
	if err != nil {
		return "", err
	}
	if len(pages) != a.ManagedCount() {
		return "", fmt.Errorf("got %d pages, %d managed", len(pages), a.ManagedCount())
	}
	if _, ok := a.AllocPage(); ok {
		return "", errors.New("allocation succeeded on an empty pool")
	}
	if err := freeAll(a, pages); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d pages", len(pages)), nil
}

func scenarioRoundTrip(a *kalloc.Allocator) (string, error) {
	first, err := drain(a)
	if err != nil {
		return "", err
	}
	if err := freeAll(a, first); err != nil {
		return "", err
	}
	second, err := drain(a)
	if err != nil {
		return "", err
	}
	slices.Sort(first)
	slices.Sort(second)
	if !slices.Equal(first, second) {
		return "", fmt.Errorf("second pass got %d pages, first %d", len(second), len(first))
	}
	if err := freeAll(a, second); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d pages twice", len(first)), nil
}

func scenarioForkShare(a *kalloc.Allocator) (string, error) {
	shared, ok := a.AllocPage()
	if !ok {
		return "", errors.New("no page to share")
	}
	if err := a.IncRef(shared); err != nil {
		return "", err
	}
	if err := a.FreePage(shared); err != nil {
		return "", err
	}
	if n, err := a.GetRef(shared); err != nil || n != 1 {
		return "", fmt.Errorf("after one free %v has refcount %d (%v)", shared, n, err)
	}

	rest, err := drain(a)
	if err != nil {
		return "", err
	}
	if slices.Contains(rest, shared) {
		return "", fmt.Errorf("shared page %v reused while still owned", shared)
	}
	if err := freeAll(a, rest); err != nil {
		return "", err
	}

	if err := a.FreePage(shared); err != nil {
		return "", err
	}
	if n, err := a.GetRef(shared); err != nil || n != 0 {
		return "", fmt.Errorf("after last free %v has refcount %d (%v)", shared, n, err)
	}
	if a.FreeCount() != a.ManagedCount() {
		return "", fmt.Errorf("%d of %d pages free", a.FreeCount(), a.ManagedCount())
	}
	return fmt.Sprintf("%v freed on its second owner", shared), nil
}

func scenarioDoubleFree(a *kalloc.Allocator) (string, error) {
	pa, ok := a.AllocPage()
	if !ok {
		return "", errors.New("no page")
	}
	if err := a.FreePage(pa); err != nil {
		return "", err
	}
	free := a.FreeCount()

	err := a.FreePage(pa)
	if !errors.Is(err, kalloc.ErrZeroRefcount) {
		return "", fmt.Errorf("second free of %v: got %v, want %v", pa, err, kalloc.ErrZeroRefcount)
	}
	if a.FreeCount() != free {
		return "", fmt.Errorf("rejected free changed the pool: %d -> %d pages", free, a.FreeCount())
	}
	return fmt.Sprintf("rejected: %v", err), nil
}

func scenarioMisaligned(a *kalloc.Allocator) (string, error) {
	pa, ok := a.AllocPage()
	if !ok {
		return "", errors.New("no page")
	}
	_, err := a.DecRef(pa + 1)
	if !errors.Is(err, kalloc.ErrMisaligned) {
		return "", fmt.Errorf("DecRef(%v): got %v, want %v", pa+1, err, kalloc.ErrMisaligned)
	}
	if n, err := a.GetRef(pa); err != nil || n != 1 {
		return "", fmt.Errorf("%v has refcount %d (%v) after rejected DecRef", pa, n, err)
	}
	if err := a.FreePage(pa); err != nil {
		return "", err
	}
	return fmt.Sprintf("rejected: %v", err), nil
}
