package pipeline

import (
	"context"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Runner runs the pipeline on one image.
type Runner interface {
	Run(ctx context.Context, img image.Image, mode string) Result
}

// Async schedules at most one pipeline run at a time. Submissions made while
// a run is in flight are rejected rather than queued.
type Async struct {
	runner Runner
	mu     sync.Mutex
	ready  bool
	closed bool
	mode   string
	wg     sync.WaitGroup
}

// NewAsync wraps runner, running every submission in the given mode.
func NewAsync(runner Runner, modeName string) *Async {
	return &Async{runner: runner, ready: true, mode: modeName}
}

// Submit starts a run on img in the background and returns true, or returns
// false immediately if a run is already in flight or the wrapper is closed.
// The handler receives the result before the wrapper becomes ready again.
func (a *Async) Submit(ctx context.Context, img image.Image, handler func(Result)) bool {
	a.mu.Lock()
	if !a.ready || a.closed {
		a.mu.Unlock()
		return false
	}
	a.ready = false
	modeName := a.mode
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		defer a.markReady()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("async pipeline handler panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		result := a.runner.Run(ctx, img, modeName)
		if handler != nil {
			handler(result)
		}
	}()
	return true
}

// SubmitChan is Submit with the result delivered on a channel. The channel
// receives exactly one result and is then closed.
func (a *Async) SubmitChan(ctx context.Context, img image.Image) (<-chan Result, bool) {
	ch := make(chan Result, 1)
	ok := a.Submit(ctx, img, func(r Result) {
		ch <- r
		close(ch)
	})
	if !ok {
		return nil, false
	}
	return ch, true
}

func (a *Async) markReady() {
	a.mu.Lock()
	a.ready = true
	a.mu.Unlock()
}

// PollReady reports whether the next Submit would be accepted.
func (a *Async) PollReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready && !a.closed
}

// SetMode changes the mode used by subsequent submissions.
func (a *Async) SetMode(modeName string) {
	a.mu.Lock()
	a.mode = modeName
	a.mu.Unlock()
}

// Mode returns the current mode name.
func (a *Async) Mode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Close rejects further submissions and waits for the in-flight run.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}
