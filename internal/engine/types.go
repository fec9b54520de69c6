// Package engine defines the data model shared by the detector, the
// recognition engines and the orchestration layer, together with the narrow
// collaborator interfaces the engines are consumed through.
package engine

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"time"
)

// Box is an axis-aligned integer rectangle in image pixel coordinates.
// A valid box satisfies X1 < X2 and Y1 < Y2.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Y2 - b.Y1 }

// CenterY returns the integer vertical center.
func (b Box) CenterY() int { return (b.Y1 + b.Y2) / 2 }

// Valid reports whether the box has positive area.
func (b Box) Valid() bool { return b.X1 < b.X2 && b.Y1 < b.Y2 }

// Area returns the box area, or 0 for degenerate boxes.
func (b Box) Area() int {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Union returns the smallest box containing both b and o.
func (b Box) Union(o Box) Box {
	return Box{
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
		X2: max(b.X2, o.X2),
		Y2: max(b.Y2, o.Y2),
	}
}

// Clip restricts the box to [0,width]x[0,height].
func (b Box) Clip(width, height int) Box {
	return Box{
		X1: max(0, b.X1),
		Y1: max(0, b.Y1),
		X2: min(width, b.X2),
		Y2: min(height, b.Y2),
	}
}

// IoU computes intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	ix1, iy1 := max(b.X1, o.X1), max(b.Y1, o.Y1)
	ix2, iy2 := min(b.X2, o.X2), min(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := float64((ix2 - ix1) * (iy2 - iy1))
	union := float64(b.Area()+o.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle { return image.Rect(b.X1, b.Y1, b.X2, b.Y2) }

// Region is a candidate text area with the detector's confidence.
type Region struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// DetectorResult is the ordered output of the region geometry processor.
// The zero value means no guided cropping is available.
type DetectorResult struct {
	Regions     []Region `json:"regions"`
	RegionCount int      `json:"region_count"`
}

// NewDetectorResult wraps regions keeping RegionCount consistent.
func NewDetectorResult(regions []Region) DetectorResult {
	return DetectorResult{Regions: regions, RegionCount: len(regions)}
}

// AverageConfidence returns the mean region confidence rounded to 2 decimals.
func (d DetectorResult) AverageConfidence() float64 {
	if d.RegionCount == 0 {
		return 0
	}
	var sum float64
	for _, r := range d.Regions {
		sum += r.Confidence
	}
	return Round(sum/float64(max(d.RegionCount, 1)), 2)
}

// Token is one recognized word or line with the engine's confidence in [0,1].
type Token struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// At4 returns the element at [n,c,y,x] of a rank-4 tensor.
func (t Tensor) At4(n, c, y, x int) float32 {
	s := t.Shape
	return t.Data[((n*s[1]+c)*s[2]+y)*s[3]+x]
}

// DetectorOutput carries the raw score and geometry maps of a region detector.
// Scores has shape [1,1,H,W], Geometry has shape [1,5,H,W]: four box distances
// followed by the rotation angle. InputWidth/InputHeight are the network input
// dimensions the maps were computed for.
type DetectorOutput struct {
	Scores      Tensor
	Geometry    Tensor
	InputWidth  int
	InputHeight int
}

// Detector finds candidate text regions.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) (DetectorOutput, error)
}

// Recognizer turns an image or a crop into recognized tokens.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) ([]Token, error)
}

// Seconds is a duration reported in seconds rounded to milliseconds.
type Seconds time.Duration

// Duration converts back to time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// Float returns the value in seconds rounded to 3 decimals.
func (s Seconds) Float() float64 { return Round(time.Duration(s).Seconds(), 3) }

// Forever is the largest representable duration, used for unbounded budgets.
const Forever = Seconds(math.MaxInt64)

// MarshalJSON encodes the value as a number of seconds; Forever encodes as null.
func (s Seconds) MarshalJSON() ([]byte, error) {
	if s == Forever {
		return []byte("null"), nil
	}
	return json.Marshal(s.Float())
}

// UnmarshalJSON decodes a number of seconds or null.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Forever
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Seconds(time.Duration(f * float64(time.Second)))
	return nil
}

// EngineResult is the scored output of one engine invocation.
type EngineResult struct {
	Text            string  `json:"text"`
	Confidence      float64 `json:"confidence"`
	CorpusScore     float64 `json:"corpus_score"`
	Reliable        bool    `json:"reliable"`
	Engine          string  `json:"engine"`
	Runtime         Seconds `json:"runtime"`
	Error           string  `json:"error,omitempty"`
	Path            string  `json:"path,omitempty"`
	BackupTriggered bool    `json:"backup_triggered,omitempty"`
	Skipped         bool    `json:"skipped,omitempty"`
	TimedOut        bool    `json:"timed_out,omitempty"`
	Aborted         bool    `json:"aborted,omitempty"`
}

// Empty returns the placeholder substituted for a timed out or failed engine.
func Empty(engineName string) EngineResult {
	return EngineResult{Engine: engineName}
}

// HasText reports whether the result carries any recognized text.
func (r EngineResult) HasText() bool { return r.Text != "" }

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
