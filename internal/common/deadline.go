// Package common provides shared timing utilities: stage timers and the
// deadline anchors that budgeted phases measure their remaining time from.
package common

import (
	"fmt"
	"time"
)

// Timer measures the duration of a named stage.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer creates a running timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration { return t.duration }

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// Deadline is a start instant plus a budget. All remaining-time computations
// of a phase derive from the same anchor so budgets never drift between steps.
type Deadline struct {
	Start  time.Time
	Budget time.Duration
}

// NewDeadline anchors a budget at the current instant.
func NewDeadline(budget time.Duration) Deadline {
	return Deadline{Start: time.Now(), Budget: budget}
}

// At returns the absolute instant the budget expires. Budgets that would
// overflow are clamped to the far future.
func (d Deadline) At() time.Time {
	end := d.Start.Add(d.Budget)
	if end.Before(d.Start) {
		return time.Unix(1<<62, 0)
	}
	return end
}

// Elapsed returns the time since the anchor.
func (d Deadline) Elapsed() time.Duration { return time.Since(d.Start) }

// Remaining returns the budget left, never negative.
func (d Deadline) Remaining() time.Duration {
	left := d.Budget - d.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether no budget remains.
func (d Deadline) Expired() bool { return d.Remaining() <= 0 }
