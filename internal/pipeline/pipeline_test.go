package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidth  = 640
	testHeight = 480
	quickFox   = "the quick brown fox"
)

func testImage() image.Image {
	return testutil.BlankImage(testWidth, testHeight, color.White)
}

// testModes returns a table whose default mode has the given budget and no
// pacing.
func testModes(t *testing.T, budget, interval time.Duration) *mode.Table {
	t.Helper()
	table, err := mode.NewTable("test", mode.Policy{Name: "test", Budget: budget, MinInterval: interval})
	require.NoError(t, err)
	return table
}

func newTestCoordinator(t *testing.T, engines Engines, opts Options) *Coordinator {
	t.Helper()
	pool := NewPool(DefaultWorkers)
	t.Cleanup(pool.Close)
	if engines.Corpus == nil {
		engines.Corpus = testutil.Corpus()
	}
	return New(engines, pool, opts)
}

func TestRun_Phase1Accepted(t *testing.T) {
	guided := testutil.NewFakeRecognizer("guided", 0.9, quickFox)
	c := newTestCoordinator(t, Engines{
		Detector: testutil.NewFakeDetector(testWidth, testHeight),
		Baseline: testutil.NewFakeRecognizer("baseline", 0.8, quickFox),
		Guided:   guided,
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Equal(t, CasePhase1, res.CaseTriggered)
	assert.Equal(t, quickFox, res.FinalResult.Text)
	assert.True(t, res.FinalResult.Reliable)
	assert.InDelta(t, 0.8, res.FinalResult.Confidence, 1e-9)
	assert.InDelta(t, 0.85, res.FinalResult.CorpusScore, 1e-9)
	assert.Equal(t, EngineBaseline, res.FinalResult.Engine)
	require.NotNil(t, res.Phase1)
	assert.Equal(t, 0, res.Phase1.Detector.RegionCount)
	assert.Nil(t, res.Phase2)
	assert.Equal(t, 0, guided.Calls())
	assert.Equal(t, "test", res.Mode)
}

func TestRun_GuidedCaseWins(t *testing.T) {
	guided := testutil.NewFakeRecognizer("guided", 0.9, quickFox)
	c := newTestCoordinator(t, Engines{
		Detector: testutil.NewFakeDetector(testWidth, testHeight, testutil.LineBoxes(3)...),
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
		Guided:   guided,
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Equal(t, "phase2_case1", res.CaseTriggered)
	assert.Equal(t, 3, res.Phase1.Detector.RegionCount)
	require.NotNil(t, res.Phase2)
	require.Len(t, res.Phase2.Steps, 1)
	assert.Equal(t, StatusSuccess, res.Phase2.Steps[0].Status)
	assert.Equal(t, EngineGuided, res.FinalResult.Engine)
	assert.True(t, res.FinalResult.Reliable)
	assert.Equal(t, quickFox+" "+quickFox+" "+quickFox, res.FinalResult.Text)
	assert.Equal(t, 3, guided.Calls())
}

func TestRun_LowConfidenceEverywhereIsBlanked(t *testing.T) {
	c := newTestCoordinator(t, Engines{
		Detector: testutil.NewFakeDetector(testWidth, testHeight, testutil.LineBoxes(2)...),
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
		Guided:   testutil.NewFakeRecognizer("guided", 0.45, "the", "fox"),
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	require.NotNil(t, res.Phase2)
	require.Len(t, res.Phase2.Steps, 3)
	assert.Equal(t, StatusFail, res.Phase2.Steps[0].Status)
	assert.Equal(t, StatusFail, res.Phase2.Steps[1].Status)
	assert.Equal(t, StatusSuccess, res.Phase2.Steps[2].Status)
	assert.Equal(t, 3, res.Phase2.BestCase)
	assert.Equal(t, "the fox", res.Phase2.Final.Text)
	assert.True(t, res.Phase2.Final.BackupTriggered)

	assert.Equal(t, "phase2_case3", res.CaseTriggered)
	assert.Empty(t, res.FinalResult.Text)
	assert.False(t, res.FinalResult.Reliable)
	assert.InDelta(t, 0.45, res.FinalResult.Confidence, 1e-9)
}

func TestRun_TooManyRegionsSkipsGuidedCrops(t *testing.T) {
	guided := testutil.NewFakeRecognizer("guided", 0.9, quickFox)
	c := newTestCoordinator(t, Engines{
		Detector: testutil.NewFakeDetector(testWidth, testHeight, testutil.LineBoxes(8)...),
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
		Guided:   guided,
	}, Options{MaxCrops: 5, Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Equal(t, 8, res.Phase1.Detector.RegionCount)
	assert.Equal(t, "phase2_case2", res.CaseTriggered)
	require.NotNil(t, res.Phase2)
	assert.Equal(t, []int{1}, res.Phase2.Skipped)
	require.Len(t, res.Phase2.Steps, 1)
	assert.Equal(t, 2, res.Phase2.Steps[0].Case)
	assert.Equal(t, EngineGuidedFull, res.FinalResult.Engine)
	assert.Equal(t, quickFox, res.FinalResult.Text)
	assert.Equal(t, 1, guided.Calls())
}

func TestRun_BaselineTimeoutStopsAtBudget(t *testing.T) {
	baseline := testutil.NewFakeRecognizer("baseline", 0.9, quickFox)
	baseline.Delay = time.Second
	c := newTestCoordinator(t, Engines{
		Baseline: baseline,
		Guided:   testutil.NewFakeRecognizer("guided", 0.9, quickFox),
	}, Options{Modes: testModes(t, 50*time.Millisecond, 0)})

	start := time.Now()
	res := c.Run(t.Context(), testImage(), "test")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, CasePhase1, res.CaseTriggered)
	assert.True(t, res.Phase1.Baseline.TimedOut)
	assert.True(t, res.Phase1.BudgetExceeded)
	assert.Contains(t, res.Phase1.Baseline.Error, "timed out")
	assert.Empty(t, res.FinalResult.Text)
	assert.False(t, res.FinalResult.Reliable)
	assert.Equal(t, 50*time.Millisecond, res.TotalRuntime.Duration())
}

func TestRun_EngineFailuresAreContained(t *testing.T) {
	det := testutil.NewFakeDetector(testWidth, testHeight)
	det.Err = errors.New("gpu lost")
	baseline := testutil.NewFakeRecognizer("baseline", 0.9, quickFox)
	baseline.Panic = true
	c := newTestCoordinator(t, Engines{
		Detector: det,
		Baseline: baseline,
		Guided:   testutil.NewFakeRecognizer("guided", 0.9, quickFox),
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Contains(t, res.Phase1.DetectorError, "gpu lost")
	assert.Contains(t, res.Phase1.Baseline.Error, "panic")
	assert.Equal(t, "phase2_case2", res.CaseTriggered)
	assert.Equal(t, quickFox, res.FinalResult.Text)
}

func TestRun_MalformedDetectorOutput(t *testing.T) {
	det := &testutil.FakeDetector{Output: engine.DetectorOutput{
		Scores:   engine.Tensor{Shape: []int{1, 1, 2, 2}, Data: make([]float32, 4)},
		Geometry: engine.Tensor{Shape: []int{1, 3, 2, 2}, Data: make([]float32, 12)},
	}}
	c := newTestCoordinator(t, Engines{
		Detector: det,
		Baseline: testutil.NewFakeRecognizer("baseline", 0.9, quickFox),
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Contains(t, res.Phase1.DetectorError, "malformed")
	assert.Equal(t, 0, res.Phase1.Detector.RegionCount)
	assert.Equal(t, CasePhase1, res.CaseTriggered)
}

func TestRun_Phase2CaseTimeout(t *testing.T) {
	guided := testutil.NewFakeRecognizer("guided", 0.9, quickFox)
	guided.Delay = time.Second
	c := newTestCoordinator(t, Engines{
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
		Guided:   guided,
	}, Options{Phase2Floor: 60 * time.Millisecond, Modes: testModes(t, 200*time.Millisecond, 0)})

	start := time.Now()
	res := c.Run(t.Context(), testImage(), "test")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.NotNil(t, res.Phase2)
	require.Len(t, res.Phase2.Steps, 1)
	assert.Equal(t, StatusTimeout, res.Phase2.Steps[0].Status)
	assert.True(t, res.Phase2.Steps[0].Result.TimedOut)
	assert.Equal(t, "phase2_case2", res.CaseTriggered)
	assert.Empty(t, res.FinalResult.Text)
	assert.LessOrEqual(t, res.Phase2.Runtime.Duration(), res.Phase2.Budget.Duration())
}

func TestRun_MissingGuidedEngine(t *testing.T) {
	c := newTestCoordinator(t, Engines{
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	require.NotNil(t, res.Phase2)
	for _, step := range res.Phase2.Steps {
		assert.Equal(t, StatusError, step.Status)
		assert.Contains(t, step.Result.Error, "not configured")
	}
	assert.Empty(t, res.FinalResult.Text)
}

func TestRun_Pacing(t *testing.T) {
	c := newTestCoordinator(t, Engines{
		Baseline: testutil.NewFakeRecognizer("baseline", 0.9, quickFox),
	}, Options{Modes: testModes(t, time.Second, 60*time.Millisecond)})

	start := time.Now()
	res := c.Run(t.Context(), testImage(), "test")

	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, 60*time.Millisecond, res.TotalRuntime.Duration())
}

func TestRun_UnreliableBaselineIsBlanked(t *testing.T) {
	c := newTestCoordinator(t, Engines{
		Baseline: testutil.NewFakeRecognizer("baseline", 0.7, "zzkq", "vvxp"),
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Equal(t, CasePhase1, res.CaseTriggered)
	assert.Empty(t, res.FinalResult.Text)
	assert.False(t, res.FinalResult.Reliable)
	assert.InDelta(t, 0.7, res.FinalResult.Confidence, 1e-9)
}

func TestRun_NilImage(t *testing.T) {
	c := newTestCoordinator(t, Engines{}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), nil, "test")

	assert.Equal(t, CaseException, res.CaseTriggered)
	assert.False(t, res.FinalResult.Reliable)
	assert.Contains(t, res.Error, "nil")
}

func TestRun_NilImageIsPaced(t *testing.T) {
	c := newTestCoordinator(t, Engines{}, Options{Modes: testModes(t, time.Second, 60*time.Millisecond)})

	start := time.Now()
	res := c.Run(t.Context(), nil, "test")

	assert.Equal(t, CaseException, res.CaseTriggered)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, 60*time.Millisecond, res.TotalRuntime.Duration())
}

func TestRun_ConfidenceOnlyEarlyExit(t *testing.T) {
	guided := testutil.NewFakeRecognizer("guided", 0.85, "zzq", "xxv")
	c := newTestCoordinator(t, Engines{
		Detector: testutil.NewFakeDetector(testWidth, testHeight, testutil.LineBoxes(3)...),
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
		Guided:   guided,
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	assert.Equal(t, "phase2_case1", res.CaseTriggered)
	require.NotNil(t, res.Phase2)
	require.Len(t, res.Phase2.Steps, 1)
	assert.Equal(t, 1, res.Phase2.Triggered)
	assert.NotEmpty(t, res.Phase2.Final.Text)
	assert.False(t, res.Phase2.Final.Reliable)
	assert.Equal(t, 3, guided.Calls())

	assert.Empty(t, res.FinalResult.Text)
	assert.False(t, res.FinalResult.Reliable)
	assert.InDelta(t, 0.85, res.FinalResult.Confidence, 1e-9)
}

func TestRun_ChampionNotLastCase(t *testing.T) {
	guided := &testutil.FakeRecognizer{EngineName: "guided", Tokens: []engine.Token{
		{Text: "zzq", Confidence: 0.75},
		{Text: "xxv", Confidence: 0.35},
	}}
	c := newTestCoordinator(t, Engines{
		Baseline: testutil.NewFakeRecognizer("baseline", 0.3, "hello"),
		Guided:   guided,
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "test")

	require.NotNil(t, res.Phase2)
	assert.Equal(t, []int{1}, res.Phase2.Skipped)
	require.Len(t, res.Phase2.Steps, 2)
	assert.Equal(t, 3, res.Phase2.Steps[1].Case)
	assert.Equal(t, "zzq xxv", res.Phase2.Steps[1].Result.Text)

	assert.Equal(t, 2, res.Phase2.BestCase)
	assert.Equal(t, 2, res.Phase2.Triggered)
	assert.Equal(t, "phase2_case2", res.CaseTriggered)
	assert.Equal(t, "zzq", res.Phase2.Final.Text)
	assert.InDelta(t, 0.75, res.Phase2.Final.Confidence, 1e-9)
	assert.Equal(t, EngineGuidedFull, res.FinalResult.Engine)
	assert.Empty(t, res.FinalResult.Text)
	assert.Equal(t, 1, guided.Calls())
}

func TestRun_CancelledContextEndsUnboundedRun(t *testing.T) {
	release := make(chan struct{})
	baseline := testutil.NewFakeRecognizer("baseline", 0.9, quickFox)
	baseline.Func = func(image.Image) []engine.Token {
		<-release
		return nil
	}
	c := newTestCoordinator(t, Engines{Baseline: baseline}, Options{Modes: testModes(t, mode.Unbounded, 0)})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	res := c.Run(ctx, testImage(), "test")

	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, res.FinalResult.Text)
	assert.False(t, res.FinalResult.Reliable)
}

func TestRun_UnknownModeFallsBack(t *testing.T) {
	c := newTestCoordinator(t, Engines{
		Baseline: testutil.NewFakeRecognizer("baseline", 0.9, quickFox),
	}, Options{Modes: testModes(t, time.Second, 0)})

	res := c.Run(t.Context(), testImage(), "warp-speed")
	assert.Equal(t, "test", res.Mode)
}

func TestFinalFilter(t *testing.T) {
	c := New(Engines{}, NewPool(1), Options{})
	defer c.Pool().Close()

	tests := []struct {
		name  string
		in    engine.EngineResult
		blank bool
	}{
		{"reliable and confident", engine.EngineResult{Text: "a", Confidence: 0.7, Reliable: true}, false},
		{"reliable below floor", engine.EngineResult{Text: "a", Confidence: 0.49, Reliable: true}, true},
		{"unreliable", engine.EngineResult{Text: "a", Confidence: 0.9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.finalFilter(tt.in)
			assert.Equal(t, tt.blank, out.Text == "")
			assert.Equal(t, tt.in.Confidence, out.Confidence)
			if tt.blank {
				assert.False(t, out.Reliable)
			}
		})
	}
}

func TestCaseTag(t *testing.T) {
	assert.Equal(t, "phase2_case1", CaseTag(1))
	assert.Equal(t, "phase2_case3", CaseTag(3))
	assert.Equal(t, CasePhase2, CaseTag(0))
}
