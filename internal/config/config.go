package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/detector"
	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/models"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
)

// Config is the complete configuration for the ocrcascade application. It
// covers every command and is loaded from files, environment variables and
// command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
	Mode      string `mapstructure:"mode" yaml:"mode" json:"mode"`

	// Custom modes replace the built-in table when non-empty.
	Modes []ModeConfig `mapstructure:"modes" yaml:"modes" json:"modes"`

	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Detector   DetectorConfig   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	Secondary  RecognizerConfig `mapstructure:"secondary" yaml:"secondary" json:"secondary"`
	Baseline   BaselineConfig   `mapstructure:"baseline" yaml:"baseline" json:"baseline"`
	Corpus     CorpusConfig     `mapstructure:"corpus" yaml:"corpus" json:"corpus"`
	Race       RaceConfig       `mapstructure:"race" yaml:"race" json:"race"`
	Live       LiveConfig       `mapstructure:"live" yaml:"live" json:"live"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	Batch      BatchConfig      `mapstructure:"batch" yaml:"batch" json:"batch"`
	GPU        GPUConfig        `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ModeConfig declares one execution mode. A zero budget means unbounded.
type ModeConfig struct {
	Name        string        `mapstructure:"name" yaml:"name" json:"name"`
	Budget      time.Duration `mapstructure:"budget" yaml:"budget" json:"budget"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval" json:"min_interval"`
}

// PipelineConfig holds coordinator thresholds.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	MaxCrops       int           `mapstructure:"max_crops" yaml:"max_crops" json:"max_crops"`
	MinTokenConf   float64       `mapstructure:"min_token_conf" yaml:"min_token_conf" json:"min_token_conf"`
	LooseTokenConf float64       `mapstructure:"loose_token_conf" yaml:"loose_token_conf" json:"loose_token_conf"`
	MinCropConf    float64       `mapstructure:"min_crop_conf" yaml:"min_crop_conf" json:"min_crop_conf"`
	EarlyExitConf  float64       `mapstructure:"early_exit_conf" yaml:"early_exit_conf" json:"early_exit_conf"`
	FinalMinConf   float64       `mapstructure:"final_min_conf" yaml:"final_min_conf" json:"final_min_conf"`
	Phase2Floor    time.Duration `mapstructure:"phase2_floor" yaml:"phase2_floor" json:"phase2_floor"`
}

// DetectorConfig holds EAST model and geometry settings.
type DetectorConfig struct {
	Enabled         bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ModelPath       string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputSize       int     `mapstructure:"input_size" yaml:"input_size" json:"input_size"`
	NumThreads      int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	ScoreThreshold  float64 `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	NMSThreshold    float64 `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	MergeYTolerance int     `mapstructure:"merge_y_tolerance" yaml:"merge_y_tolerance" json:"merge_y_tolerance"`
	MergeXGap       int     `mapstructure:"merge_x_gap" yaml:"merge_x_gap" json:"merge_x_gap"`
	LineTolerance   float64 `mapstructure:"line_tolerance" yaml:"line_tolerance" json:"line_tolerance"`
	PadX            float64 `mapstructure:"pad_x" yaml:"pad_x" json:"pad_x"`
	PadY            float64 `mapstructure:"pad_y" yaml:"pad_y" json:"pad_y"`
	MinPad          int     `mapstructure:"min_pad" yaml:"min_pad" json:"min_pad"`
}

// RecognizerConfig holds one CTC recognizer's settings.
type RecognizerConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	ModelPath   string `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	DictPath    string `mapstructure:"dict_path" yaml:"dict_path" json:"dict_path"`
	ImageHeight int    `mapstructure:"image_height" yaml:"image_height" json:"image_height"`
	MaxWidth    int    `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	NumThreads  int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// BaselineConfig holds the tesseract engine settings.
type BaselineConfig struct {
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Languages   []string `mapstructure:"languages" yaml:"languages" json:"languages"`
	PageSegMode int      `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`
}

// CorpusConfig locates the word frequency table.
type CorpusConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// RaceConfig holds engine race timeouts.
type RaceConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	EngineTimeout time.Duration `mapstructure:"engine_timeout" yaml:"engine_timeout" json:"engine_timeout"`
}

// LiveConfig holds screen capture settings for the live loop.
type LiveConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Display     int           `mapstructure:"display" yaml:"display" json:"display"`
	RegionX     int           `mapstructure:"region_x" yaml:"region_x" json:"region_x"`
	RegionY     int           `mapstructure:"region_y" yaml:"region_y" json:"region_y"`
	RegionW     int           `mapstructure:"region_w" yaml:"region_w" json:"region_w"`
	RegionH     int           `mapstructure:"region_h" yaml:"region_h" json:"region_h"`
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures" json:"max_failures"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Per-client limits; 0 disables.
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	LogDir      string `mapstructure:"log_dir" yaml:"log_dir" json:"log_dir"`
	Timestamped bool   `mapstructure:"timestamped" yaml:"timestamped" json:"timestamped"`
	Recursive   bool   `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Format      string `mapstructure:"format" yaml:"format" json:"format"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	geom := detector.DefaultGeometryConfig()
	opts := pipeline.DefaultOptions()
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		LogFormat: "json",
		Mode:      mode.Default,
		Pipeline: PipelineConfig{
			Workers:        pipeline.DefaultWorkers,
			MaxCrops:       opts.MaxCrops,
			MinTokenConf:   opts.MinTokenConf,
			LooseTokenConf: opts.LooseTokenConf,
			MinCropConf:    opts.MinCropConf,
			EarlyExitConf:  opts.EarlyExitConf,
			FinalMinConf:   opts.FinalMinConf,
			Phase2Floor:    opts.Phase2Floor,
		},
		Detector: DetectorConfig{
			Enabled:         true,
			InputSize:       detector.DefaultInputSize,
			ScoreThreshold:  geom.ScoreThreshold,
			NMSThreshold:    geom.NMSThreshold,
			MergeYTolerance: geom.MergeYTolerance,
			MergeXGap:       geom.MergeXGap,
			LineTolerance:   geom.LineTolerance,
			PadX:            geom.PadX,
			PadY:            geom.PadY,
			MinPad:          geom.MinPad,
		},
		Recognizer: RecognizerConfig{Enabled: true, ImageHeight: 48, MaxWidth: 1280},
		Secondary:  RecognizerConfig{Enabled: false, ImageHeight: 48, MaxWidth: 1280},
		Baseline:   BaselineConfig{Enabled: true, Languages: []string{"eng"}, PageSegMode: 6},
		Race: RaceConfig{
			Timeout:       pipeline.DefaultRaceTimeout,
			EngineTimeout: pipeline.DefaultEngineTimeout,
		},
		Live: LiveConfig{
			Interval:    200 * time.Millisecond,
			Display:     0,
			MaxFailures: 10,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Batch: BatchConfig{
			LogDir:    "logs",
			Recursive: true,
			Format:    "text",
		},
		GPU: GPUConfig{
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate checks every section and joins all problems into one error.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(validateLogLevel(c.LogLevel))
	if !slices.Contains([]string{"json", "text"}, c.LogFormat) {
		add(fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	table, err := c.ModeTable()
	add(err)
	if err == nil && !table.Known(c.Mode) {
		add(fmt.Errorf("unknown mode %q (have %s)", c.Mode, strings.Join(table.Names(), ", ")))
	}
	add(c.Pipeline.validate())
	add(c.GeometryConfig().Validate())
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		add(fmt.Errorf("detector.input_size must be a positive multiple of 32, got %d", c.Detector.InputSize))
	}
	add(c.Recognizer.validate("recognizer"))
	add(c.Secondary.validate("secondary"))
	if c.Baseline.Enabled && len(c.Baseline.Languages) == 0 {
		add(errors.New("baseline.languages cannot be empty"))
	}
	if c.Race.Timeout <= 0 || c.Race.EngineTimeout <= 0 {
		add(errors.New("race timeouts must be positive"))
	}
	if c.Live.Interval < 0 {
		add(fmt.Errorf("live.interval must be non-negative, got %v", c.Live.Interval))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add(fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.MaxDataPerDayMB < 0 {
		add(errors.New("server rate limits must be non-negative"))
	}
	if c.Server.MaxUploadMB <= 0 {
		add(fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}
	if !slices.Contains([]string{"text", "json", "csv"}, c.Batch.Format) {
		add(fmt.Errorf("batch.format must be text, json or csv, got %q", c.Batch.Format))
	}
	if c.GPU.Device < 0 {
		add(fmt.Errorf("gpu.device must be non-negative, got %d", c.GPU.Device))
	}
	if _, err := ParseMemoryLimit(c.GPU.MemoryLimit); err != nil {
		add(fmt.Errorf("gpu.memory_limit: %w", err))
	}
	return errors.Join(errs...)
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("invalid log_level %q (want debug, info, warn or error)", level)
}

func (p PipelineConfig) validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", p.Workers)
	}
	if p.MaxCrops < 1 {
		return fmt.Errorf("pipeline.max_crops must be at least 1, got %d", p.MaxCrops)
	}
	for name, v := range map[string]float64{
		"min_token_conf":   p.MinTokenConf,
		"loose_token_conf": p.LooseTokenConf,
		"min_crop_conf":    p.MinCropConf,
		"early_exit_conf":  p.EarlyExitConf,
		"final_min_conf":   p.FinalMinConf,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("pipeline.%s must be in [0,1], got %v", name, v)
		}
	}
	if p.Phase2Floor < 0 {
		return fmt.Errorf("pipeline.phase2_floor must be non-negative, got %v", p.Phase2Floor)
	}
	return nil
}

func (r RecognizerConfig) validate(section string) error {
	if !r.Enabled {
		return nil
	}
	if r.ImageHeight <= 0 {
		return fmt.Errorf("%s.image_height must be positive, got %d", section, r.ImageHeight)
	}
	if r.MaxWidth < 0 {
		return fmt.Errorf("%s.max_width must be non-negative, got %d", section, r.MaxWidth)
	}
	return nil
}
