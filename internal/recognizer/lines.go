package recognizer

import (
	"image"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/disintegration/imaging"
)

// LineConfig tunes projection-profile line segmentation.
type LineConfig struct {
	InkDelta  uint8 // minimum luminance distance from the background to count as ink
	MinHeight int   // text lines shorter than this are dropped
	MaxGap    int   // ink rows separated by at most this many blank rows join one line
	Margin    int   // rows added above and below each line
}

// DefaultLineConfig returns segmentation defaults suited to screen text.
func DefaultLineConfig() LineConfig {
	return LineConfig{InkDelta: 60, MinHeight: 6, MaxGap: 2, Margin: 3}
}

// SegmentLines splits an image into horizontal text bands using the row ink
// profile. The background level is the median luminance. Images without ink
// yield no lines.
func SegmentLines(img image.Image, cfg LineConfig) []engine.Box {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	var hist [256]int
	for y := range h {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			hist[row[x]]++
		}
	}
	bg := medianLevel(hist, w*h)

	inkRows := make([]bool, h)
	minInk := max(1, w/200)
	for y := range h {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w*4]
		count := 0
		for x := 0; x < len(row); x += 4 {
			if absDiff(row[x], bg) >= cfg.InkDelta {
				count++
			}
		}
		inkRows[y] = count >= minInk
	}

	var lines []engine.Box
	start, lastInk := -1, -1
	flush := func() {
		if start < 0 {
			return
		}
		if lastInk-start+1 >= cfg.MinHeight {
			lines = append(lines, engine.Box{
				X1: 0,
				Y1: max(0, start-cfg.Margin),
				X2: w,
				Y2: min(h, lastInk+1+cfg.Margin),
			})
		}
		start, lastInk = -1, -1
	}
	for y, ink := range inkRows {
		switch {
		case ink && start < 0:
			start, lastInk = y, y
		case ink:
			lastInk = y
		case start >= 0 && y-lastInk > cfg.MaxGap:
			flush()
		}
	}
	flush()
	return lines
}

func medianLevel(hist [256]int, total int) uint8 {
	half := total / 2
	acc := 0
	for level, n := range hist {
		acc += n
		if acc > half {
			return uint8(level) //nolint:gosec // G115: level is in [0,255]
		}
	}
	return 255
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
