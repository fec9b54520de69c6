// Package mode maps execution modes to time budgets and minimum pacing intervals.
package mode

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Unbounded is the budget of modes without a time limit. It is the largest
// representable duration so budget arithmetic needs no special cases.
const Unbounded = time.Duration(1<<63 - 1)

// Built-in mode names.
const (
	Fast     = "fast"
	Steady   = "steady"
	Extended = "extended"
	Default  = Steady
)

// Policy is the budget and pacing of one execution mode.
type Policy struct {
	Name        string        `json:"name"`
	Budget      time.Duration `json:"budget"`
	MinInterval time.Duration `json:"min_interval"`
}

// Bounded reports whether the mode has a finite time budget.
func (p Policy) Bounded() bool { return p.Budget != Unbounded }

// Pace applies the output pacing rule to a run that started at start and
// returns the runtime to report. If the run exceeded its budget the budget is
// reported. If it finished before the minimum interval the call blocks until
// the interval has elapsed (or ctx is done) and reports the interval.
// Otherwise the measured elapsed time is returned.
func (p Policy) Pace(ctx context.Context, start time.Time) time.Duration {
	elapsed := time.Since(start)
	if elapsed > p.Budget {
		return p.Budget
	}
	if elapsed >= p.MinInterval {
		return elapsed
	}

	timer := time.NewTimer(p.MinInterval - elapsed)
	defer timer.Stop()
	select {
	case <-timer.C:
		return p.MinInterval
	case <-ctx.Done():
		return time.Since(start)
	}
}

func (p Policy) String() string {
	if !p.Bounded() {
		return fmt.Sprintf("%s(budget=unbounded, interval=%s)", p.Name, p.MinInterval)
	}
	return fmt.Sprintf("%s(budget=%s, interval=%s)", p.Name, p.Budget, p.MinInterval)
}

// Table is a set of named policies with a fallback default.
type Table struct {
	policies map[string]Policy
	fallback string
}

// NewTable builds a table from policies. fallback must name one of them.
func NewTable(fallback string, policies ...Policy) (*Table, error) {
	t := &Table{policies: make(map[string]Policy, len(policies)), fallback: fallback}
	for _, p := range policies {
		t.policies[strings.ToLower(p.Name)] = p
	}
	if _, ok := t.policies[fallback]; !ok {
		return nil, fmt.Errorf("fallback mode %q not defined", fallback)
	}
	return t, nil
}

// Lookup returns the policy for name, or the fallback policy when name is unknown.
func (t *Table) Lookup(name string) Policy {
	if p, ok := t.policies[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return t.policies[t.fallback]
}

// Known reports whether name is defined in the table.
func (t *Table) Known(name string) bool {
	_, ok := t.policies[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the defined mode names sorted alphabetically.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.policies))
	for n := range t.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Policies returns all policies sorted by name.
func (t *Table) Policies() []Policy {
	out := make([]Policy, 0, len(t.policies))
	for _, n := range t.Names() {
		out = append(out, t.policies[n])
	}
	return out
}

var builtin = mustTable(Default,
	Policy{Name: Fast, Budget: time.Second, MinInterval: 0},
	Policy{Name: Steady, Budget: 5 * time.Second, MinInterval: 2 * time.Second},
	Policy{Name: Extended, Budget: Unbounded, MinInterval: 10 * time.Second},
)

func mustTable(fallback string, policies ...Policy) *Table {
	t, err := NewTable(fallback, policies...)
	if err != nil {
		panic(err)
	}
	return t
}

// Builtin returns the table of built-in modes.
func Builtin() *Table { return builtin }

// Lookup resolves name against the built-in modes, defaulting to steady.
func Lookup(name string) Policy { return builtin.Lookup(name) }

// BudgetFor returns the time budget of the named built-in mode.
func BudgetFor(name string) time.Duration { return builtin.Lookup(name).Budget }
