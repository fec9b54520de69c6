// Package utils loads, validates and annotates input images.
package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// ImageProcessingError represents errors that can occur during image handling.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path        string  `json:"path,omitempty"`
	Format      string  `json:"format"`
	SizeBytes   int64   `json:"size_bytes"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
}

func metadataFor(img image.Image, format string, size int64) ImageMetadata {
	b := img.Bounds()
	meta := ImageMetadata{Format: format, SizeBytes: size, Width: b.Dx(), Height: b.Dy()}
	if b.Dy() > 0 {
		meta.AspectRatio = float64(b.Dx()) / float64(b.Dy())
	}
	return meta
}

// LoadImage opens and decodes an image file, returning the image and metadata.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		err := &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
		return nil, ImageMetadata{}, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided image path is expected
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}
	img, meta, err := DecodeImage(bytes.NewReader(data))
	if err != nil {
		return nil, ImageMetadata{}, err
	}
	meta.Path = path
	meta.SizeBytes = int64(len(data))
	return img, meta, nil
}

// DecodeImage decodes an image from r. The reported size is the number of
// bytes consumed.
func DecodeImage(r io.Reader) (image.Image, ImageMetadata, error) {
	counter := &countingReader{r: r}
	img, format, err := image.Decode(counter)
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}
	return img, metadataFor(img, format, counter.n), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ImageConstraints bounds the images accepted by the pipeline.
type ImageConstraints struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
}

// DefaultImageConstraints returns the default constraints for OCR input.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxWidth:  4096,
		MaxHeight: 4096,
		MinWidth:  16,
		MinHeight: 16,
	}
}

// ValidateImageConstraints checks the minimum dimensions. Oversized images
// are not an error; FitWithin scales them down.
func ValidateImageConstraints(img image.Image, constraints ImageConstraints) error {
	if img == nil {
		return &ImageProcessingError{Operation: "validate", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < constraints.MinWidth || h < constraints.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err: fmt.Errorf(
				"image too small: %dx%d < %dx%d",
				w, h, constraints.MinWidth, constraints.MinHeight,
			),
		}
	}
	return nil
}

// FitWithin scales img down, preserving aspect ratio, so that it fits the
// maximum dimensions. Images that already fit are returned unchanged.
func FitWithin(img image.Image, constraints ImageConstraints) image.Image {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	if (constraints.MaxWidth <= 0 || b.Dx() <= constraints.MaxWidth) &&
		(constraints.MaxHeight <= 0 || b.Dy() <= constraints.MaxHeight) {
		return img
	}
	return imaging.Fit(img, max(constraints.MaxWidth, 1), max(constraints.MaxHeight, 1), imaging.Lanczos)
}
