package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/onnx"
	"github.com/disintegration/imaging"
	"github.com/yalue/onnxruntime_go"
)

// Default EAST model settings.
const (
	DefaultInputSize      = 640
	DefaultScoreOutput    = "feature_fusion/Conv_7/Sigmoid"
	DefaultGeometryOutput = "feature_fusion/concat_3"
)

// EASTConfig configures the ONNX EAST detector.
type EASTConfig struct {
	ModelPath      string
	InputName      string // empty selects the model's first input
	InputSize      int    // square network input, multiple of 32
	ScoreOutput    string
	GeometryOutput string
	NumThreads     int
	GPU            onnx.GPUConfig
}

// DefaultEASTConfig returns the default EAST configuration.
func DefaultEASTConfig() EASTConfig {
	return EASTConfig{
		InputSize:      DefaultInputSize,
		ScoreOutput:    DefaultScoreOutput,
		GeometryOutput: DefaultGeometryOutput,
		GPU:            onnx.DefaultGPUConfig(),
	}
}

func (c EASTConfig) validate() error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("input size must be a positive multiple of 32, got %d", c.InputSize)
	}
	if c.ScoreOutput == "" || c.GeometryOutput == "" {
		return errors.New("score and geometry output names are required")
	}
	return onnx.ValidateGPUConfig(c.GPU)
}

// EAST runs an EAST text detector exported to ONNX. It is safe for
// concurrent use; inference calls are serialized on the session.
type EAST struct {
	config  EASTConfig
	session *onnxruntime_go.DynamicAdvancedSession
	mu      sync.Mutex
}

// NewEAST loads the model and creates its session.
func NewEAST(config EASTConfig) (*EAST, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	var inputs []string
	if config.InputName != "" {
		inputs = []string{config.InputName}
	}
	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		Inputs:     inputs,
		Outputs:    []string{config.ScoreOutput, config.GeometryOutput},
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("EAST detector initialized", "model_path", config.ModelPath, "input_size", config.InputSize)
	return &EAST{config: config, session: session}, nil
}

// Name identifies the engine in results and logs.
func (d *EAST) Name() string { return "detector" }

// Detect resizes the image to the network input and returns the raw maps.
func (d *EAST) Detect(ctx context.Context, img image.Image) (engine.DetectorOutput, error) {
	if img == nil {
		return engine.DetectorOutput{}, errors.New("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return engine.DetectorOutput{}, err
	}

	size := d.config.InputSize
	resized := imaging.Resize(img, size, size, imaging.Linear)
	tensor, err := onnx.ImageToTensor(resized, onnx.MeanSubtraction(123.68, 116.78, 103.94))
	if err != nil {
		return engine.DetectorOutput{}, fmt.Errorf("failed to prepare input: %w", err)
	}
	defer tensor.Release()
	input, err := tensor.Value()
	if err != nil {
		return engine.DetectorOutput{}, err
	}
	defer onnx.DestroyValues(input)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return engine.DetectorOutput{}, errors.New("detector session is closed")
	}

	outputs := []onnxruntime_go.Value{nil, nil}
	if err := d.session.Run([]onnxruntime_go.Value{input}, outputs); err != nil {
		return engine.DetectorOutput{}, fmt.Errorf("inference failed: %w", err)
	}
	defer onnx.DestroyValues(outputs...)

	scores, err := onnx.FromValue(outputs[0])
	if err != nil {
		return engine.DetectorOutput{}, fmt.Errorf("%w: scores: %w", engine.ErrDecoder, err)
	}
	geometry, err := onnx.FromValue(outputs[1])
	if err != nil {
		return engine.DetectorOutput{}, fmt.Errorf("%w: geometry: %w", engine.ErrDecoder, err)
	}
	return engine.DetectorOutput{Scores: scores, Geometry: geometry, InputWidth: size, InputHeight: size}, nil
}

// Close releases the session.
func (d *EAST) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			slog.Warn("failed to destroy detector session", "error", err)
		}
		d.session = nil
	}
	return nil
}
