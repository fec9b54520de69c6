package detector

import (
	"image"
	"log/slog"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/disintegration/imaging"
)

// Guided cropping limits.
const (
	CropPadFraction = 0.2
	CropMinPad      = 10
	CropMinWidth    = 40
	CropMinHeight   = 20
	MaxCrops        = 10
)

// Crop is a padded sub-image cut from a detected region.
type Crop struct {
	Index int
	Box   engine.Box
	Image image.Image
}

// CropBox pads a region box by 20% of its size (at least 10px) and clips it.
// It reports false when the padded box is smaller than the minimum crop size.
func CropBox(b engine.Box, imageW, imageH int) (engine.Box, bool) {
	px := max(CropMinPad, int(CropPadFraction*float64(b.Width())))
	py := max(CropMinPad, int(CropPadFraction*float64(b.Height())))
	padded := engine.Box{X1: b.X1 - px, Y1: b.Y1 - py, X2: b.X2 + px, Y2: b.Y2 + py}.Clip(imageW, imageH)
	if padded.Width() < CropMinWidth || padded.Height() < CropMinHeight {
		return padded, false
	}
	return padded, true
}

// CropRegions cuts padded crops for the first MaxCrops regions in order,
// skipping crops that end up too small.
func CropRegions(img image.Image, result engine.DetectorResult) []Crop {
	if img == nil {
		return nil
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	regions := result.Regions
	if len(regions) > MaxCrops {
		regions = regions[:MaxCrops]
	}

	crops := make([]Crop, 0, len(regions))
	for i, r := range regions {
		box, ok := CropBox(r.Box, w, h)
		if !ok {
			slog.Debug("skipping small crop", "region", i, "box", r.Box, "padded", box)
			continue
		}
		rect := box.Rect().Add(bounds.Min)
		crops = append(crops, Crop{Index: i, Box: box, Image: imaging.Crop(img, rect)})
	}
	return crops
}
