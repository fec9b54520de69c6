package testutil

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countDark(img *image.RGBA) int {
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] < 128 {
			n++
		}
	}
	return n
}

func TestGenerateTextImage(t *testing.T) {
	img := GenerateTextImage(DefaultTextImageConfig())
	assert.Equal(t, MediumSize.Width, img.Bounds().Dx())
	assert.Equal(t, MediumSize.Height, img.Bounds().Dy())
	assert.Positive(t, countDark(img))
}

func TestTextImage_Multiline(t *testing.T) {
	one := TextImage("hello")
	two := TextImage("hello\nhello")
	assert.Greater(t, countDark(two), countDark(one))
}

func TestBlankImage(t *testing.T) {
	img := BlankImage(10, 5, color.Black)
	assert.Equal(t, 50, countDark(img))
}

func TestWriteTextImages(t *testing.T) {
	dir := t.TempDir()
	paths := WriteTextImages(t, dir, map[string]string{"a.png": "alpha", "b.png": "beta"}, "b.png", "a.png")
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "b.png"), paths[0])
	for _, p := range paths {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}
}
