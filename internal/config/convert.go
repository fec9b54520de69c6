package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/capture"
	"github.com/MeKo-Tech/ocrcascade/internal/detector"
	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/models"
	"github.com/MeKo-Tech/ocrcascade/internal/onnx"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/recognizer"
	"github.com/MeKo-Tech/ocrcascade/internal/tesseract"
)

// ModeTable returns the configured modes, or the built-in table when no
// custom modes are declared. A custom mode with a zero budget is unbounded.
func (c Config) ModeTable() (*mode.Table, error) {
	if len(c.Modes) == 0 {
		return mode.Builtin(), nil
	}
	policies := make([]mode.Policy, 0, len(c.Modes))
	for _, m := range c.Modes {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("mode name cannot be empty")
		}
		if m.Budget < 0 || m.MinInterval < 0 {
			return nil, fmt.Errorf("mode %q: budget and min_interval must be non-negative", m.Name)
		}
		budget := m.Budget
		if budget == 0 {
			budget = mode.Unbounded
		}
		policies = append(policies, mode.Policy{
			Name:        strings.ToLower(m.Name),
			Budget:      budget,
			MinInterval: m.MinInterval,
		})
	}
	return mode.NewTable(strings.ToLower(c.Mode), policies...)
}

// PipelineOptions converts the pipeline section into coordinator options.
func (c Config) PipelineOptions() (pipeline.Options, error) {
	table, err := c.ModeTable()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		MaxCrops:       c.Pipeline.MaxCrops,
		MinTokenConf:   c.Pipeline.MinTokenConf,
		LooseTokenConf: c.Pipeline.LooseTokenConf,
		MinCropConf:    c.Pipeline.MinCropConf,
		EarlyExitConf:  c.Pipeline.EarlyExitConf,
		FinalMinConf:   c.Pipeline.FinalMinConf,
		Phase2Floor:    c.Pipeline.Phase2Floor,
		Modes:          table,
	}, nil
}

// GeometryConfig converts the detector section into post-processing parameters.
func (c Config) GeometryConfig() detector.GeometryConfig {
	g := detector.DefaultGeometryConfig()
	g.ScoreThreshold = c.Detector.ScoreThreshold
	g.NMSThreshold = c.Detector.NMSThreshold
	g.MergeYTolerance = c.Detector.MergeYTolerance
	g.MergeXGap = c.Detector.MergeXGap
	g.LineTolerance = c.Detector.LineTolerance
	g.PadX = c.Detector.PadX
	g.PadY = c.Detector.PadY
	g.MinPad = c.Detector.MinPad
	return g
}

// GPUConfig converts the gpu section into ONNX session settings.
func (c Config) GPUConfig() (onnx.GPUConfig, error) {
	limit, err := ParseMemoryLimit(c.GPU.MemoryLimit)
	if err != nil {
		return onnx.GPUConfig{}, err
	}
	return onnx.GPUConfig{UseGPU: c.GPU.Enabled, DeviceID: c.GPU.Device, GPUMemLimit: limit}, nil
}

// EASTConfig resolves the detector model and returns its session configuration.
func (c Config) EASTConfig() (detector.EASTConfig, error) {
	gpu, err := c.GPUConfig()
	if err != nil {
		return detector.EASTConfig{}, err
	}
	cfg := detector.DefaultEASTConfig()
	cfg.ModelPath = c.Detector.ModelPath
	if cfg.ModelPath == "" {
		cfg.ModelPath = models.GetDetectionModelPath(c.ModelsDir)
	}
	cfg.InputSize = c.Detector.InputSize
	cfg.NumThreads = c.Detector.NumThreads
	cfg.GPU = gpu
	return cfg, nil
}

// RecognizerConfig returns the session configuration of the guided recognizer
// (secondary=false) or the secondary recognizer. The secondary defaults to
// the server-size model.
func (c Config) RecognizerConfig(secondary bool) (recognizer.Config, error) {
	gpu, err := c.GPUConfig()
	if err != nil {
		return recognizer.Config{}, err
	}
	section, name := c.Recognizer, pipeline.EngineGuided
	if secondary {
		section, name = c.Secondary, pipeline.EngineSecondary
	}
	cfg := recognizer.DefaultConfig()
	cfg.Name = name
	cfg.ModelPath = section.ModelPath
	if cfg.ModelPath == "" {
		cfg.ModelPath = models.GetRecognitionModelPath(c.ModelsDir, secondary)
	}
	cfg.DictPath = section.DictPath
	if cfg.DictPath == "" {
		cfg.DictPath = models.GetDictionaryPath(c.ModelsDir, "")
	}
	cfg.ImageHeight = section.ImageHeight
	cfg.MaxWidth = section.MaxWidth
	cfg.NumThreads = section.NumThreads
	cfg.GPU = gpu
	return cfg, nil
}

// TesseractConfig converts the baseline section.
func (c Config) TesseractConfig() tesseract.Config {
	cfg := tesseract.DefaultConfig()
	cfg.Name = pipeline.EngineBaseline
	if len(c.Baseline.Languages) > 0 {
		cfg.Languages = c.Baseline.Languages
	}
	cfg.PageSegMode = c.Baseline.PageSegMode
	return cfg
}

// CorpusPath returns the configured word frequency file.
func (c Config) CorpusPath() string {
	if c.Corpus.Path != "" {
		return c.Corpus.Path
	}
	return models.GetCorpusPath(c.ModelsDir)
}

// RaceOptions converts the race section.
func (c Config) RaceOptions() pipeline.RaceOptions {
	return pipeline.RaceOptions{Timeout: c.Race.Timeout, EngineTimeout: c.Race.EngineTimeout}
}

// Screen returns the capture source described by the live section.
func (c Config) Screen() *capture.Screen {
	return &capture.Screen{
		Display: c.Live.Display,
		Region: capture.Region{
			X:      c.Live.RegionX,
			Y:      c.Live.RegionY,
			Width:  c.Live.RegionW,
			Height: c.Live.RegionH,
		},
	}
}

// ServerTimeout returns the per-request timeout.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSec) * time.Second
}

// BatchLogDir returns the batch log directory, made absolute relative to base
// when it is relative and base is non-empty.
func (c Config) BatchLogDir(base string) string {
	if c.Batch.LogDir == "" || filepath.IsAbs(c.Batch.LogDir) || base == "" {
		return c.Batch.LogDir
	}
	return filepath.Join(base, c.Batch.LogDir)
}

var memoryUnits = []struct {
	suffix string
	factor uint64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseMemoryLimit parses a size such as "512MB" or "2GB" into bytes. An
// empty string or "auto" means no limit and yields 0.
func ParseMemoryLimit(limit string) (uint64, error) {
	limit = strings.ToUpper(strings.TrimSpace(limit))
	if limit == "" || limit == "AUTO" {
		return 0, nil
	}
	for _, u := range memoryUnits {
		if num, ok := strings.CutSuffix(limit, u.suffix); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
			if err != nil || v < 0 {
				return 0, fmt.Errorf("invalid memory limit %q", limit)
			}
			return uint64(v * float64(u.factor)), nil
		}
	}
	v, err := strconv.ParseUint(limit, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory limit must be bytes or end with TB, GB, MB, KB or B: %q", limit)
	}
	return v, nil
}
