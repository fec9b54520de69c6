// Package benchmark times repeated pipeline runs and checks them against the
// mode budgets.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/common"
)

// MemoryStats is a snapshot of the Go heap.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{AllocBytes: m.Alloc, TotalAllocBytes: m.TotalAlloc, NumGC: m.NumGC}
}

// Result is the outcome of one benchmark case.
type Result struct {
	Name       string          `json:"name"`
	Iterations int             `json:"iterations"`
	Durations  []time.Duration `json:"durations"`
	// Budget is zero when the case has no time limit.
	Budget       time.Duration `json:"budget,omitempty"`
	OverBudget   int           `json:"over_budget"`
	MemoryBefore MemoryStats   `json:"memory_before"`
	MemoryAfter  MemoryStats   `json:"memory_after"`
	Error        string        `json:"error,omitempty"`
}

// Min returns the fastest iteration.
func (r Result) Min() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	return slices.Min(r.Durations)
}

// Max returns the slowest iteration.
func (r Result) Max() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	return slices.Max(r.Durations)
}

// Mean returns the average iteration time.
func (r Result) Mean() time.Duration {
	if len(r.Durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range r.Durations {
		total += d
	}
	return total / time.Duration(len(r.Durations))
}

// AllocatedKB is the heap growth over all iterations.
func (r Result) AllocatedKB() uint64 {
	return (r.MemoryAfter.TotalAllocBytes - r.MemoryBefore.TotalAllocBytes) / 1024
}

func (r Result) String() string {
	if r.Error != "" {
		return fmt.Sprintf("%s: ERROR - %s", r.Name, r.Error)
	}
	s := fmt.Sprintf("%s: %d iterations, min: %v, avg: %v, max: %v, alloc: %d KB",
		r.Name, len(r.Durations), r.Min(), r.Mean(), r.Max(), r.AllocatedKB())
	if r.Budget > 0 {
		s += fmt.Sprintf(", over budget %v: %d", r.Budget, r.OverBudget)
	}
	return s
}

// Case is one named workload.
type Case struct {
	Name   string
	Budget time.Duration
	Func   func(ctx context.Context) error
}

// Suite runs cases in the order they were added.
type Suite struct {
	mu      sync.Mutex
	cases   []Case
	results []Result
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add appends a case. A zero budget disables the budget check.
func (s *Suite) Add(name string, budget time.Duration, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases = append(s.cases, Case{Name: name, Budget: budget, Func: fn})
}

// Len returns the number of cases.
func (s *Suite) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cases)
}

// Run runs the named case.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	s.mu.Lock()
	idx := slices.IndexFunc(s.cases, func(c Case) bool { return c.Name == name })
	var c Case
	if idx >= 0 {
		c = s.cases[idx]
	}
	s.mu.Unlock()

	if idx < 0 {
		return Result{Name: name, Error: fmt.Sprintf("benchmark '%s' not found", name)}
	}
	return runCase(ctx, c, iterations)
}

// RunAll runs every case and keeps the results.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	cases := slices.Clone(s.cases)
	s.mu.Unlock()

	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		if ctx.Err() != nil {
			break
		}
		results = append(results, runCase(ctx, c, iterations))
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return results
}

// Results returns the results of the last RunAll.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// Print writes one line per result.
func (s *Suite) Print(w io.Writer) {
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
}

func runCase(ctx context.Context, c Case, iterations int) Result {
	iterations = max(iterations, 1)
	runtime.GC()
	res := Result{
		Name:         c.Name,
		Iterations:   iterations,
		Budget:       c.Budget,
		Durations:    make([]time.Duration, 0, iterations),
		MemoryBefore: GetMemoryStats(),
	}

	for range iterations {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			break
		}
		timer := common.NewNamedTimer(c.Name)
		err := c.Func(ctx)
		d := timer.Stop()
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Durations = append(res.Durations, d)
		if c.Budget > 0 && d > c.Budget {
			res.OverBudget++
		}
	}

	res.MemoryAfter = GetMemoryStats()
	return res
}
