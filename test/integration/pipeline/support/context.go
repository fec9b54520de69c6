// Package support holds the godog step definitions for the pipeline
// feature tests. Engines are in-process fakes so scenarios run without
// models.
package support

import (
	"image"
	"image/color"

	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
)

const (
	imageWidth  = 640
	imageHeight = 480
)

// TestContext holds the state of one scenario.
type TestContext struct {
	Modes    *mode.Table
	MaxCrops int

	Detector  *testutil.FakeDetector
	Baseline  *testutil.FakeRecognizer
	Guided    *testutil.FakeRecognizer
	Secondary *testutil.FakeRecognizer

	pool *pipeline.Pool

	LastResult *pipeline.Result
	LastRace   *pipeline.RaceResult
}

// NewTestContext returns an empty scenario state.
func NewTestContext() *TestContext {
	return &TestContext{}
}

// Image is the blank page every scenario processes.
func (tc *TestContext) Image() image.Image {
	return testutil.BlankImage(imageWidth, imageHeight, color.White)
}

// Coordinator builds a coordinator over the engines configured so far.
func (tc *TestContext) Coordinator() *pipeline.Coordinator {
	engines := pipeline.Engines{Corpus: testutil.Corpus()}
	if tc.Detector != nil {
		engines.Detector = tc.Detector
	}
	if tc.Baseline != nil {
		engines.Baseline = tc.Baseline
	}
	if tc.Guided != nil {
		engines.Guided = tc.Guided
	}
	if tc.Secondary != nil {
		engines.Secondary = tc.Secondary
	}
	if tc.pool == nil {
		tc.pool = pipeline.NewPool(pipeline.DefaultWorkers)
	}
	return pipeline.New(engines, tc.pool, pipeline.Options{MaxCrops: tc.MaxCrops, Modes: tc.Modes})
}

// Cleanup releases the worker pool.
func (tc *TestContext) Cleanup() {
	if tc.pool != nil {
		tc.pool.Close()
		tc.pool = nil
	}
}
