package utils

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// Overlay colors for reliable and unreliable regions.
var (
	ReliableColor   = color.RGBA{0, 200, 0, 255}
	UnreliableColor = color.RGBA{220, 0, 0, 255}
)

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// RenderRegions copies img and outlines every detected region, green when
// its confidence passes minConf and red otherwise.
func RenderRegions(img image.Image, regions []engine.Region, minConf float64) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	for _, r := range regions {
		col := UnreliableColor
		if r.Confidence >= minConf {
			col = ReliableColor
		}
		DrawRect(out, r.Box.Rect(), col, 2)
	}
	return out
}

// SaveOverlay writes the rendered regions for sourcePath into dir as
// <name>_overlay.png and returns the written path.
func SaveOverlay(dir, sourcePath string, img image.Image, regions []engine.Region, minConf float64) (string, error) {
	ov := RenderRegions(img, regions, minConf)
	if ov == nil {
		return "", &ImageProcessingError{Operation: "overlay", Err: fmt.Errorf("no image for %s", sourcePath)}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create overlay dir: %w", err)
	}
	base := filepath.Base(sourcePath)
	outPath := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_overlay.png")
	f, err := os.Create(outPath) //nolint:gosec // G304: overlay dir comes from the CLI
	if err != nil {
		return "", fmt.Errorf("failed to create overlay: %w", err)
	}
	if err := png.Encode(f, ov); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to encode overlay: %w", err)
	}
	return outPath, f.Close()
}
