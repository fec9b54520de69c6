// Package recognizer implements the neural text recognizers: a CTC
// text-line model run through ONNX Runtime, with projection-profile line
// segmentation so whole images and detector crops are handled alike.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/onnx"
	"github.com/disintegration/imaging"
	"github.com/yalue/onnxruntime_go"
)

// Config holds configuration for a CTC recognizer.
type Config struct {
	Name        string // engine name reported in results
	ModelPath   string // ONNX recognition model
	DictPath    string // character dictionary, one token per line
	ImageHeight int    // model input height
	MaxWidth    int    // input width clamp (0 = no clamp)
	NumThreads  int
	Lines       LineConfig
	GPU         onnx.GPUConfig
}

// DefaultConfig returns a default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		Name:        "guided",
		ImageHeight: 48,
		MaxWidth:    1280,
		Lines:       DefaultLineConfig(),
		GPU:         onnx.DefaultGPUConfig(),
	}
}

// Validate checks paths and sizes.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.DictPath == "" {
		return errors.New("dictionary path cannot be empty")
	}
	if c.ImageHeight <= 0 {
		return fmt.Errorf("image height must be positive, got %d", c.ImageHeight)
	}
	if c.MaxWidth < 0 {
		return fmt.Errorf("max width must be non-negative, got %d", c.MaxWidth)
	}
	return onnx.ValidateGPUConfig(c.GPU)
}

// CTC recognizes text lines with a CTC model. Inference is serialized per
// instance; separate instances may run concurrently.
type CTC struct {
	config  Config
	charset *Charset
	session *onnxruntime_go.DynamicAdvancedSession
	mu      sync.Mutex
}

// New loads the dictionary and model.
func New(config Config) (*CTC, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(config.DictPath); err != nil {
		return nil, fmt.Errorf("dictionary file not found: %s", config.DictPath)
	}
	charset, err := LoadCharset(config.DictPath)
	if err != nil {
		return nil, err
	}
	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("recognizer initialized",
		"name", config.Name,
		"model_path", config.ModelPath,
		"classes", charset.Classes())
	return &CTC{config: config, charset: charset, session: session}, nil
}

// Name identifies the engine in results and logs.
func (r *CTC) Name() string { return r.config.Name }

// Recognize segments img into text lines and returns one token per
// non-empty line in top-to-bottom order.
func (r *CTC) Recognize(ctx context.Context, img image.Image) ([]engine.Token, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	bounds := img.Bounds()
	lines := SegmentLines(img, r.config.Lines)
	if len(lines) == 0 {
		lines = []engine.Box{{X1: 0, Y1: 0, X2: bounds.Dx(), Y2: bounds.Dy()}}
	}

	tokens := make([]engine.Token, 0, len(lines))
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return tokens, err
		}
		patch := imaging.Crop(img, line.Rect().Add(bounds.Min))
		text, conf, err := r.recognizeLine(patch)
		if err != nil {
			return tokens, engine.Failure(r.Name(), "recognize", err)
		}
		if text == "" {
			continue
		}
		tokens = append(tokens, engine.Token{Text: text, Confidence: conf})
	}
	return tokens, nil
}

// InputWidth returns the model input width for a patch of size w x h.
func InputWidth(w, h, height, maxWidth int) int {
	if h <= 0 {
		return height
	}
	width := int(math.Ceil(float64(w) * float64(height) / float64(h)))
	width = max(width, 8)
	if maxWidth > 0 {
		width = min(width, maxWidth)
	}
	return width
}

func (r *CTC) recognizeLine(patch image.Image) (string, float64, error) {
	b := patch.Bounds()
	height := r.config.ImageHeight
	width := InputWidth(b.Dx(), b.Dy(), height, r.config.MaxWidth)
	resized := imaging.Resize(patch, width, height, imaging.Linear)

	tensor, err := onnx.ImageToTensor(resized, onnx.Symmetric())
	if err != nil {
		return "", 0, err
	}
	defer tensor.Release()
	input, err := tensor.Value()
	if err != nil {
		return "", 0, err
	}
	defer onnx.DestroyValues(input)

	r.mu.Lock()
	if r.session == nil {
		r.mu.Unlock()
		return "", 0, errors.New("recognizer session is closed")
	}
	outputs := []onnxruntime_go.Value{nil}
	err = r.session.Run([]onnxruntime_go.Value{input}, outputs)
	r.mu.Unlock()
	if err != nil {
		return "", 0, fmt.Errorf("inference failed: %w", err)
	}
	defer onnx.DestroyValues(outputs...)

	logits, err := onnx.FromValue(outputs[0])
	if err != nil {
		return "", 0, err
	}
	seqs, err := DecodeGreedy(logits, Blank)
	if err != nil {
		return "", 0, err
	}
	if len(seqs) == 0 {
		return "", 0, nil
	}
	return strings.TrimSpace(r.charset.Text(seqs[0])), seqs[0].Confidence(), nil
}

// Close releases the session.
func (r *CTC) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		if err := r.session.Destroy(); err != nil {
			slog.Warn("failed to destroy recognizer session", "name", r.config.Name, "error", err)
		}
		r.session = nil
	}
	return nil
}
