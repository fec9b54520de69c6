package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner returns once release is closed and records the modes it ran.
type blockingRunner struct {
	release chan struct{}
	mu      sync.Mutex
	modes   []string
}

func (r *blockingRunner) Run(_ context.Context, _ image.Image, modeName string) Result {
	<-r.release
	r.mu.Lock()
	r.modes = append(r.modes, modeName)
	r.mu.Unlock()
	return Result{Mode: modeName, CaseTriggered: CasePhase1, FinalResult: engine.EngineResult{Text: "ok"}}
}

func (r *blockingRunner) ranModes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.modes...)
}

func TestAsync_RejectsWhileBusy(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	a := NewAsync(runner, "fast")
	defer a.Close()

	assert.True(t, a.PollReady())
	done := make(chan Result, 1)
	require.True(t, a.Submit(t.Context(), testImage(), func(r Result) { done <- r }))
	assert.False(t, a.PollReady())
	assert.False(t, a.Submit(t.Context(), testImage(), func(Result) {}))

	close(runner.release)
	select {
	case r := <-done:
		assert.Equal(t, "ok", r.FinalResult.Text)
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}

	assert.Eventually(t, a.PollReady, time.Second, 5*time.Millisecond)
	ch, ok := a.SubmitChan(t.Context(), testImage())
	require.True(t, ok)
	r, open := <-ch
	require.True(t, open)
	assert.Equal(t, "fast", r.Mode)
	_, open = <-ch
	assert.False(t, open)
}

func TestAsync_SetMode(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	close(runner.release)
	a := NewAsync(runner, "fast")
	defer a.Close()

	a.SetMode("extended")
	assert.Equal(t, "extended", a.Mode())
	ch, ok := a.SubmitChan(t.Context(), testImage())
	require.True(t, ok)
	<-ch
	assert.Equal(t, []string{"extended"}, runner.ranModes())
}

func TestAsync_HandlerPanicRestoresReady(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	close(runner.release)
	a := NewAsync(runner, "fast")
	defer a.Close()

	require.True(t, a.Submit(t.Context(), testImage(), func(Result) { panic("handler bug") }))
	assert.Eventually(t, a.PollReady, time.Second, 5*time.Millisecond)
}

func TestAsync_CloseWaitsAndRejects(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	a := NewAsync(runner, "fast")

	called := make(chan struct{})
	require.True(t, a.Submit(t.Context(), testImage(), func(Result) { close(called) }))

	closed := make(chan struct{})
	go func() {
		a.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned before the in-flight run finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(runner.release)
	<-called
	<-closed
	assert.False(t, a.PollReady())
	assert.False(t, a.Submit(t.Context(), testImage(), nil))
}

func TestAsync_WithCoordinator(t *testing.T) {
	c := newTestCoordinator(t, Engines{}, Options{Modes: testModes(t, 100*time.Millisecond, 0)})
	a := NewAsync(c, "test")
	defer a.Close()

	ch, ok := a.SubmitChan(t.Context(), testImage())
	require.True(t, ok)
	select {
	case r := <-ch:
		assert.Equal(t, "test", r.Mode)
		assert.Empty(t, r.FinalResult.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not complete")
	}
}
