package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	for _, p := range []string{"a.png", "b.JPG", "c.jpeg", "d.bmp", "e.webp"} {
		assert.True(t, IsSupportedImage(p), p)
	}
	for _, p := range []string{"a.txt", "b", "c.pdf", "d.gif"} {
		assert.False(t, IsSupportedImage(p), p)
	}
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.png")
	testutil.SaveImage(t, testutil.BlankImage(120, 40, color.White), path)

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, path, meta.Path)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 120, meta.Width)
	assert.Equal(t, 40, meta.Height)
	assert.InDelta(t, 3.0, meta.AspectRatio, 1e-9)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), meta.SizeBytes)
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage("notes.txt")
	require.ErrorAs(t, err, &ipe)
	assert.Contains(t, err.Error(), "unsupported format")

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	require.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.BlankImage(20, 10, color.Black)))
	size := int64(buf.Len())

	img, meta, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, size, meta.SizeBytes)
	assert.Empty(t, meta.Path)
}

func TestValidateImageConstraints(t *testing.T) {
	cons := DefaultImageConstraints()
	require.NoError(t, ValidateImageConstraints(testutil.BlankImage(64, 64, color.White), cons))

	err := ValidateImageConstraints(testutil.BlankImage(8, 64, color.White), cons)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image too small")

	err = ValidateImageConstraints(nil, cons)
	var ipe *ImageProcessingError
	require.True(t, errors.As(err, &ipe))
}

func TestFitWithin(t *testing.T) {
	cons := ImageConstraints{MaxWidth: 100, MaxHeight: 100}
	small := testutil.BlankImage(50, 20, color.White)
	assert.Same(t, small, FitWithin(small, cons))

	big := FitWithin(testutil.BlankImage(400, 200, color.White), cons)
	assert.Equal(t, image.Pt(100, 50), big.Bounds().Size())
	assert.Nil(t, FitWithin(nil, cons))
}
