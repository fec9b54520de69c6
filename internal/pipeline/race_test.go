package pipeline

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEngine(name string, delay time.Duration, res engine.EngineResult, err error) RaceEngine {
	return RaceEngine{Name: name, Run: func(ctx context.Context, _ image.Image) (engine.EngineResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return engine.EngineResult{}, ctx.Err()
		}
		return res, err
	}}
}

func reliable(text string, conf float64) engine.EngineResult {
	return engine.EngineResult{Text: text, Confidence: conf, CorpusScore: 0.9, Reliable: true}
}

func TestRunRace_FirstReliableWins(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	res := RunRace(t.Context(), pool, testImage(), []RaceEngine{
		fixedEngine("slow", 300*time.Millisecond, reliable("slow text", 0.9), nil),
		fixedEngine("fast", 10*time.Millisecond, reliable("fast text", 0.8), nil),
		fixedEngine("junk", 5*time.Millisecond, engine.EngineResult{Text: "x", Confidence: 0.2}, nil),
	}, RaceOptions{Timeout: time.Second, EngineTimeout: time.Second})

	require.NotNil(t, res.Winner)
	assert.Equal(t, "fast", *res.Winner)
	assert.Equal(t, "fast text", res.FinalText)
	assert.True(t, res.Reliable)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	require.NotNil(t, res.WinnerRuntime)
	assert.Less(t, res.Runtime.Duration(), 300*time.Millisecond)

	require.Len(t, res.AllOutputs, 3)
	assert.False(t, res.AllOutputs["junk"].Reliable)
	assert.True(t, res.AllOutputs["slow"].Skipped)
	assert.True(t, res.AllOutputs["slow"].Aborted)
}

func TestRunRace_NoReliableResult(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	res := RunRace(t.Context(), pool, testImage(), []RaceEngine{
		fixedEngine("a", 5*time.Millisecond, engine.EngineResult{Text: "abc", Confidence: 0.4}, nil),
		fixedEngine("b", 5*time.Millisecond, engine.EngineResult{}, errors.New("crashed")),
	}, RaceOptions{Timeout: time.Second})

	assert.Nil(t, res.Winner)
	assert.Nil(t, res.WinnerRuntime)
	assert.Empty(t, res.FinalText)
	assert.False(t, res.Reliable)
	assert.Equal(t, "abc", res.AllOutputs["a"].Text)
	assert.Contains(t, res.AllOutputs["b"].Error, "crashed")
}

func TestRunRace_EngineTimeout(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	start := time.Now()
	res := RunRace(t.Context(), pool, testImage(), []RaceEngine{
		fixedEngine("stuck", time.Second, reliable("late", 0.9), nil),
		fixedEngine("ok", 5*time.Millisecond, engine.EngineResult{Text: "meh", Confidence: 0.3}, nil),
	}, RaceOptions{Timeout: time.Second, EngineTimeout: 40 * time.Millisecond})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Nil(t, res.Winner)
	stuck := res.AllOutputs["stuck"]
	assert.True(t, stuck.TimedOut)
	assert.True(t, stuck.Skipped)
	assert.Equal(t, "stuck", stuck.Engine)
}

func TestRunRace_GroupTimeout(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	res := RunRace(t.Context(), pool, testImage(), []RaceEngine{
		fixedEngine("a", time.Second, reliable("a", 0.9), nil),
		fixedEngine("b", time.Second, reliable("b", 0.9), nil),
	}, RaceOptions{Timeout: 30 * time.Millisecond, EngineTimeout: time.Second})

	assert.Nil(t, res.Winner)
	for _, name := range []string{"a", "b"} {
		assert.True(t, res.AllOutputs[name].TimedOut, name)
		assert.True(t, res.AllOutputs[name].Skipped, name)
	}
}

func TestRunRace_LosersAbortedAfterWinner(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	var sawCancel atomic.Bool
	res := RunRace(t.Context(), pool, testImage(), []RaceEngine{
		fixedEngine("first", 5*time.Millisecond, reliable("first", 0.9), nil),
		{Name: "waiting", Run: func(ctx context.Context, _ image.Image) (engine.EngineResult, error) {
			<-ctx.Done()
			sawCancel.Store(true)
			return engine.EngineResult{}, ctx.Err()
		}},
	}, RaceOptions{Timeout: time.Second})

	require.NotNil(t, res.Winner)
	assert.Equal(t, "first", *res.Winner)
	waiting := res.AllOutputs["waiting"]
	assert.True(t, waiting.Aborted)
	assert.True(t, waiting.Skipped)
	assert.False(t, waiting.Reliable)
	assert.Eventually(t, sawCancel.Load, time.Second, 5*time.Millisecond)
}

func TestRunRace_LimitsEngines(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	engines := make([]RaceEngine, 0, 5)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		engines = append(engines, fixedEngine(name, time.Millisecond, engine.EngineResult{}, nil))
	}
	res := RunRace(t.Context(), pool, testImage(), engines, RaceOptions{})
	assert.Len(t, res.AllOutputs, MaxRaceEngines)
}

func TestCoordinator_Race(t *testing.T) {
	guided := testutil.NewFakeRecognizer("guided", 0.9, quickFox)
	baseline := testutil.NewFakeRecognizer("baseline", 0.9, quickFox)
	baseline.Delay = 200 * time.Millisecond
	c := newTestCoordinator(t, Engines{
		Detector:  testutil.NewFakeDetector(testWidth, testHeight, testutil.LineBoxes(2)...),
		Baseline:  baseline,
		Guided:    guided,
		Secondary: testutil.NewFakeRecognizer("secondary", 0.2, "zz"),
	}, Options{})

	res := c.Race(t.Context(), testImage(), RaceOptions{Timeout: time.Second})

	require.NotNil(t, res.Winner)
	assert.Equal(t, EngineGuided, *res.Winner)
	assert.Equal(t, quickFox+" "+quickFox, res.FinalText)
	assert.Equal(t, 2, guided.Calls())
	assert.Contains(t, res.AllOutputs, EngineBaseline)
	assert.Contains(t, res.AllOutputs, EngineSecondary)
}

func TestCoordinator_RaceEnginesWithoutSecondary(t *testing.T) {
	c := newTestCoordinator(t, Engines{}, Options{})
	engines := c.RaceEngines()
	require.Len(t, engines, 2)
	assert.Equal(t, EngineBaseline, engines[0].Name)
	assert.Equal(t, EngineGuided, engines[1].Name)

	res := c.Race(t.Context(), nil, RaceOptions{})
	assert.Nil(t, res.Winner)
	assert.Empty(t, res.AllOutputs)
}
