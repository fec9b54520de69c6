package testutil

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// DetectorStride is the pixels-per-cell of maps built by DetectorOutputFor.
const DetectorStride = 4

// DetectorOutputFor encodes boxes as raw detector maps with zero rotation.
// Each box occupies the cell containing its top-left corner, so boxes must
// start in distinct 4x4 cells. Inputs equal the image size so no rescaling
// happens.
func DetectorOutputFor(width, height int, score float32, boxes ...engine.Box) engine.DetectorOutput {
	rows, cols := height/DetectorStride, width/DetectorStride
	plane := rows * cols
	out := engine.DetectorOutput{
		Scores:      engine.Tensor{Shape: []int{1, 1, rows, cols}, Data: make([]float32, plane)},
		Geometry:    engine.Tensor{Shape: []int{1, 5, rows, cols}, Data: make([]float32, 5*plane)},
		InputWidth:  cols * DetectorStride,
		InputHeight: rows * DetectorStride,
	}
	for _, b := range boxes {
		cx, cy := b.X1/DetectorStride, b.Y1/DetectorStride
		offX, offY := cx*DetectorStride, cy*DetectorStride
		i := cy*cols + cx
		out.Scores.Data[i] = score
		out.Geometry.Data[i] = float32(offY - b.Y1)
		out.Geometry.Data[plane+i] = float32(b.X2 - offX)
		out.Geometry.Data[2*plane+i] = float32(b.Y2 - offY)
		out.Geometry.Data[3*plane+i] = float32(offX - b.X1)
	}
	return out
}

// LineBoxes returns n text-line boxes, one per row, spaced far enough apart
// that the geometry chain keeps them separate.
func LineBoxes(n int) []engine.Box {
	boxes := make([]engine.Box, n)
	for i := range n {
		y := 20 + i*56
		boxes[i] = engine.Box{X1: 40, Y1: y, X2: 400, Y2: y + 20}
	}
	return boxes
}

// Behavior configures how a fake engine responds.
type Behavior struct {
	Delay time.Duration // simulated latency; ends early when ctx is done
	Err   error         // returned instead of a result
	Panic bool          // panic instead of returning
}

func (b Behavior) apply(ctx context.Context) error {
	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if b.Panic {
		panic("fake engine panic")
	}
	return b.Err
}

// FakeDetector returns a fixed detector output.
type FakeDetector struct {
	Behavior
	Output engine.DetectorOutput
	calls  atomic.Int32
}

// NewFakeDetector builds a detector reporting the given boxes on a
// width x height image.
func NewFakeDetector(width, height int, boxes ...engine.Box) *FakeDetector {
	return &FakeDetector{Output: DetectorOutputFor(width, height, 0.9, boxes...)}
}

// Name implements engine.Detector.
func (d *FakeDetector) Name() string { return "fake-detector" }

// Detect implements engine.Detector.
func (d *FakeDetector) Detect(ctx context.Context, _ image.Image) (engine.DetectorOutput, error) {
	d.calls.Add(1)
	if err := d.apply(ctx); err != nil {
		return engine.DetectorOutput{}, err
	}
	return d.Output, nil
}

// Calls returns the number of Detect invocations.
func (d *FakeDetector) Calls() int { return int(d.calls.Load()) }

// FakeRecognizer returns fixed tokens, or the output of Func when set.
type FakeRecognizer struct {
	Behavior
	EngineName string
	Tokens     []engine.Token
	Func       func(img image.Image) []engine.Token
	calls      atomic.Int32
}

// NewFakeRecognizer builds a recognizer returning one token per text.
func NewFakeRecognizer(name string, confidence float64, texts ...string) *FakeRecognizer {
	tokens := make([]engine.Token, len(texts))
	for i, text := range texts {
		tokens[i] = engine.Token{Text: text, Confidence: confidence}
	}
	return &FakeRecognizer{EngineName: name, Tokens: tokens}
}

// Name implements engine.Recognizer.
func (r *FakeRecognizer) Name() string { return r.EngineName }

// Recognize implements engine.Recognizer.
func (r *FakeRecognizer) Recognize(ctx context.Context, img image.Image) ([]engine.Token, error) {
	r.calls.Add(1)
	if err := r.apply(ctx); err != nil {
		return nil, err
	}
	if r.Func != nil {
		return r.Func(img), nil
	}
	out := make([]engine.Token, len(r.Tokens))
	copy(out, r.Tokens)
	return out, nil
}

// Calls returns the number of Recognize invocations.
func (r *FakeRecognizer) Calls() int { return int(r.calls.Load()) }
