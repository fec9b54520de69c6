package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	LargeSize  = ImageSize{1024, 768}
)

// TextImageConfig describes a synthetic screen-text image.
type TextImageConfig struct {
	Lines      []string // one entry per rendered line
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	LineGap    int // extra pixels between lines
}

// DefaultTextImageConfig returns a single dark-on-light line.
func DefaultTextImageConfig() TextImageConfig {
	return TextImageConfig{
		Lines:      []string{"the quick brown fox"},
		Size:       MediumSize,
		Background: color.White,
		Foreground: color.Black,
		LineGap:    24,
	}
}

// GenerateTextImage renders the configured lines centered horizontally and
// stacked from the vertical center.
func GenerateTextImage(config TextImageConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, config.Size.Width, config.Size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{config.Foreground}, Face: face}

	lineHeight := face.Metrics().Height.Ceil() + config.LineGap
	startY := (config.Size.Height - len(config.Lines)*lineHeight) / 2
	for i, line := range config.Lines {
		width := font.MeasureString(face, line).Ceil()
		x := (config.Size.Width - width) / 2
		y := startY + (i+1)*lineHeight
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
	}
	return img
}

// TextImage renders text, one line per "\n", on a medium white canvas.
func TextImage(text string) *image.RGBA {
	config := DefaultTextImageConfig()
	config.Lines = strings.Split(text, "\n")
	return GenerateTextImage(config)
}

// BlankImage returns a uniformly colored image.
func BlankImage(width, height int, background color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)
	return img
}

// SaveImage writes img as PNG to path, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()
	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// WriteTextImages renders one PNG per name/text pair into dir and returns the
// written paths in argument order.
func WriteTextImages(t *testing.T, dir string, texts map[string]string, order ...string) []string {
	t.Helper()

	paths := make([]string, 0, len(order))
	for _, name := range order {
		path := filepath.Join(dir, name)
		SaveImage(t, TextImage(texts[name]), path)
		paths = append(paths, path)
	}
	return paths
}
