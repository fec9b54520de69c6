// Package detector turns raw text-region detector maps into an ordered list of
// padded line regions, crops those regions for guided recognition, and hosts
// the ONNX EAST detector adapter.
package detector

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// GeometryConfig tunes the region geometry chain.
type GeometryConfig struct {
	ScoreThreshold  float64 // minimum cell score to emit a box
	NMSThreshold    float64 // IoU above which a lower-confidence box is suppressed
	Stride          int     // pixels per output cell
	MergeYTolerance int     // max vertical center difference for horizontal merges
	MergeXGap       int     // max horizontal gap for horizontal merges
	LineTolerance   float64 // fraction of median height for line clustering
	PadX            float64 // horizontal padding as a fraction of width
	PadY            float64 // vertical padding as a fraction of height
	MinPad          int     // minimum absolute padding
}

// DefaultGeometryConfig returns the default post-processing parameters.
func DefaultGeometryConfig() GeometryConfig {
	return GeometryConfig{
		ScoreThreshold:  0.5,
		NMSThreshold:    0.4,
		Stride:          4,
		MergeYTolerance: 15,
		MergeXGap:       30,
		LineTolerance:   0.3,
		PadX:            0.12,
		PadY:            0.25,
		MinPad:          10,
	}
}

// Validate checks the configuration for unusable values.
func (c GeometryConfig) Validate() error {
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be in [0,1], got %f", c.ScoreThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold must be in [0,1], got %f", c.NMSThreshold)
	}
	if c.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %d", c.Stride)
	}
	if c.MergeYTolerance < 0 || c.MergeXGap < 0 || c.MinPad < 0 {
		return errors.New("merge tolerances and padding must be non-negative")
	}
	if c.LineTolerance < 0 || c.PadX < 0 || c.PadY < 0 {
		return errors.New("line tolerance and padding fractions must be non-negative")
	}
	return nil
}

// checkShapes validates the score [1,1,H,W] and geometry [1,5,H,W] maps.
func checkShapes(out engine.DetectorOutput) (int, int, error) {
	s, g := out.Scores, out.Geometry
	if len(s.Shape) != 4 || len(g.Shape) != 4 {
		return 0, 0, fmt.Errorf("%w: expected rank-4 maps, got scores %v geometry %v", engine.ErrDecoder, s.Shape, g.Shape)
	}
	rows, cols := s.Shape[2], s.Shape[3]
	if s.Shape[0] < 1 || s.Shape[1] < 1 || rows <= 0 || cols <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid score shape %v", engine.ErrDecoder, s.Shape)
	}
	if g.Shape[0] < 1 || g.Shape[1] < 5 || g.Shape[2] != rows || g.Shape[3] != cols {
		return 0, 0, fmt.Errorf("%w: geometry shape %v does not match scores %v", engine.ErrDecoder, g.Shape, s.Shape)
	}
	if len(s.Data) < shapeSize(s.Shape) || len(g.Data) < shapeSize(g.Shape) {
		return 0, 0, fmt.Errorf("%w: tensor data shorter than its shape", engine.ErrDecoder)
	}
	return rows, cols, nil
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Decode reconstructs one axis-aligned box per cell whose score reaches the
// threshold. Coordinates are in network input resolution.
func Decode(out engine.DetectorOutput, cfg GeometryConfig) ([]engine.Region, error) {
	rows, cols, err := checkShapes(out)
	if err != nil {
		return nil, err
	}
	stride := float64(cfg.Stride)
	scores, geo := out.Scores, out.Geometry

	var regions []engine.Region
	for y := range rows {
		for x := range cols {
			score := float64(scores.At4(0, 0, y, x))
			if score < cfg.ScoreThreshold {
				continue
			}

			offX, offY := float64(x)*stride, float64(y)*stride
			d0 := float64(geo.At4(0, 0, y, x))
			d1 := float64(geo.At4(0, 1, y, x))
			d2 := float64(geo.At4(0, 2, y, x))
			d3 := float64(geo.At4(0, 3, y, x))
			angle := float64(geo.At4(0, 4, y, x))
			cos, sin := math.Cos(angle), math.Sin(angle)

			h := d0 + d2
			w := d1 + d3
			endX := int(offX + cos*d1 + sin*d2)
			endY := int(offY - sin*d1 + cos*d2)
			startX := int(float64(endX) - w)
			startY := int(float64(endY) - h)

			regions = append(regions, engine.Region{
				Box:        engine.Box{X1: startX, Y1: startY, X2: endX, Y2: endY},
				Confidence: score,
			})
		}
	}
	return regions, nil
}

// Rescale maps boxes from network input resolution to image resolution.
func Rescale(regions []engine.Region, inputW, inputH, imageW, imageH int) []engine.Region {
	if inputW <= 0 || inputH <= 0 {
		return regions
	}
	rw := float64(imageW) / float64(inputW)
	rh := float64(imageH) / float64(inputH)
	out := make([]engine.Region, len(regions))
	for i, r := range regions {
		b := r.Box
		out[i] = engine.Region{
			Box: engine.Box{
				X1: int(float64(b.X1) * rw),
				Y1: int(float64(b.Y1) * rh),
				X2: int(float64(b.X2) * rw),
				Y2: int(float64(b.Y2) * rh),
			},
			Confidence: r.Confidence,
		}
	}
	return out
}

// MergeHorizontal joins horizontally adjacent boxes on the same text line.
// Regions are visited in a canonical order so the result does not depend on
// input order. A region is merged into the first accumulated box whose
// vertical center differs by less than yTolerance and whose right edge plus
// xGap reaches the region's left edge.
func MergeHorizontal(regions []engine.Region, yTolerance, xGap int) []engine.Region {
	sorted := make([]engine.Region, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return regionLess(sorted[i], sorted[j]) })

	merged := make([]engine.Region, 0, len(sorted))
	for _, r := range sorted {
		placed := false
		for i := range merged {
			m := &merged[i]
			if absInt(r.Box.CenterY()-m.Box.CenterY()) < yTolerance && r.Box.X1 <= m.Box.X2+xGap {
				m.Box = m.Box.Union(r.Box)
				m.Confidence = math.Max(m.Confidence, r.Confidence)
				placed = true
				break
			}
		}
		if !placed {
			merged = append(merged, r)
		}
	}
	return merged
}

// ClusterLines groups boxes whose vertical centers lie within a tolerance of
// tolerance * median box height into one line box.
func ClusterLines(regions []engine.Region, tolerance float64) []engine.Region {
	if len(regions) == 0 {
		return nil
	}

	heights := make([]int, len(regions))
	for i, r := range regions {
		heights[i] = r.Box.Height()
	}
	medH := max(1, int(median(heights)))
	tol := int(float64(medH) * tolerance)

	sorted := make([]engine.Region, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return regionLess(sorted[i], sorted[j]) })

	lines := make([]engine.Region, 0, len(sorted))
	for _, r := range sorted {
		yc := r.Box.CenterY()
		placed := false
		for i := range lines {
			if absInt(yc-lines[i].Box.CenterY()) <= tol {
				lines[i].Box = lines[i].Box.Union(r.Box)
				lines[i].Confidence = math.Max(lines[i].Confidence, r.Confidence)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, r)
		}
	}
	return lines
}

// median returns the middle value, averaging the two middle values for even
// counts.
func median(values []int) float64 {
	s := make([]int, len(values))
	copy(s, values)
	sort.Ints(s)
	n := len(s)
	if n%2 == 1 {
		return float64(s[n/2])
	}
	return float64(s[n/2-1]+s[n/2]) / 2
}

// Expand pads each box by a fraction of its own size, at least minPad pixels,
// and clips it to the image.
func Expand(regions []engine.Region, padX, padY float64, minPad, imageW, imageH int) []engine.Region {
	out := make([]engine.Region, len(regions))
	for i, r := range regions {
		out[i] = engine.Region{
			Box:        ExpandBox(r.Box, padX, padY, minPad, imageW, imageH),
			Confidence: r.Confidence,
		}
	}
	return out
}

// ExpandBox pads and clips a single box.
func ExpandBox(b engine.Box, padX, padY float64, minPad, imageW, imageH int) engine.Box {
	px := max(int(float64(b.Width())*padX), minPad)
	py := max(int(float64(b.Height())*padY), minPad)
	return engine.Box{X1: b.X1 - px, Y1: b.Y1 - py, X2: b.X2 + px, Y2: b.Y2 + py}.Clip(imageW, imageH)
}

// SortReadingOrder orders regions by top edge, then left edge.
func SortReadingOrder(regions []engine.Region) []engine.Region {
	out := make([]engine.Region, len(regions))
	copy(out, regions)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Box, out[j].Box
		if a.Y1 != b.Y1 {
			return a.Y1 < b.Y1
		}
		return a.X1 < b.X1
	})
	return out
}

// Process runs the full geometry chain on raw detector maps for an image of
// the given size. Malformed maps yield an empty result and an error wrapping
// engine.ErrDecoder.
func Process(out engine.DetectorOutput, imageW, imageH int, cfg GeometryConfig) (engine.DetectorResult, error) {
	raw, err := Decode(out, cfg)
	if err != nil {
		return engine.DetectorResult{}, err
	}
	if len(raw) == 0 {
		return engine.DetectorResult{}, nil
	}

	kept := NonMaxSuppression(raw, cfg.NMSThreshold)
	scaled := Rescale(kept, out.InputWidth, out.InputHeight, imageW, imageH)
	merged := MergeHorizontal(scaled, cfg.MergeYTolerance, cfg.MergeXGap)
	lines := ClusterLines(merged, cfg.LineTolerance)
	padded := Expand(lines, cfg.PadX, cfg.PadY, cfg.MinPad, imageW, imageH)

	regions := make([]engine.Region, 0, len(padded))
	for _, r := range SortReadingOrder(padded) {
		if r.Box.Valid() {
			regions = append(regions, r)
		}
	}
	return engine.NewDetectorResult(regions), nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
