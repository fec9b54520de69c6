package onnx

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/mempool"
	"github.com/yalue/onnxruntime_go"
)

// Tensor represents a float32 tensor prepared for ONNX input.
// Data layout is row-major, with NCHW for images.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Normalization maps an 8-bit channel value v to (v*Scale - Mean[c]) / Std[c].
type Normalization struct {
	Scale float32
	Mean  [3]float32
	Std   [3]float32
}

// MeanSubtraction subtracts per-channel means on the 0-255 scale.
func MeanSubtraction(r, g, b float32) Normalization {
	return Normalization{Scale: 1, Mean: [3]float32{r, g, b}, Std: [3]float32{1, 1, 1}}
}

// Symmetric maps 0-255 to [-1,1].
func Symmetric() Normalization {
	return Normalization{Scale: 1.0 / 255, Mean: [3]float32{0.5, 0.5, 0.5}, Std: [3]float32{0.5, 0.5, 0.5}}
}

// ImageToTensor converts an image into a [1,3,H,W] tensor backed by a
// pooled buffer. Call Release once the runtime value built from it is
// destroyed.
func ImageToTensor(img image.Image, norm Normalization) (Tensor, error) {
	if img == nil {
		return Tensor{}, errors.New("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Tensor{}, fmt.Errorf("empty image %dx%d", w, h)
	}

	plane := w * h
	data := mempool.GetFloat32(3 * plane)
	for y := range h {
		for x := range w {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			data[i] = (float32(r>>8)*norm.Scale - norm.Mean[0]) / norm.Std[0]
			data[plane+i] = (float32(g>>8)*norm.Scale - norm.Mean[1]) / norm.Std[1]
			data[2*plane+i] = (float32(bl>>8)*norm.Scale - norm.Mean[2]) / norm.Std[2]
		}
	}
	return NewImageTensor(data, 3, h, w)
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
func NewImageTensor(data []float32, c, h, w int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	if expected := c * h * w; len(data) != expected {
		return Tensor{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), expected)
	}
	return Tensor{Data: data, Shape: []int64{1, int64(c), int64(h), int64(w)}}, nil
}

// Release returns the tensor's buffer to the pool. The tensor must not be
// used afterwards.
func (t *Tensor) Release() {
	mempool.PutFloat32(t.Data)
	t.Data = nil
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// Value allocates the runtime value for t. The caller destroys it.
func (t Tensor) Value() (*onnxruntime_go.Tensor[float32], error) {
	if err := ValidateNCHW(t.Shape); err != nil {
		return nil, err
	}
	v, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	return v, nil
}

// FromValue copies a float32 runtime value into an engine tensor.
func FromValue(v onnxruntime_go.Value) (engine.Tensor, error) {
	ft, ok := v.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return engine.Tensor{}, fmt.Errorf("unexpected output type %T", v)
	}
	shape := ft.GetShape()
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	src := ft.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	return engine.Tensor{Shape: dims, Data: data}, nil
}
