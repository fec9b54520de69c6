package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "ocrcascade"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "OCRCASCADE"

	// DotEnvFile is loaded from the working directory before configuration.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings made in the root command apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// LoadDotEnv loads environment files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{DotEnvFile}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", f, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}
	return nil
}

// Load loads configuration from the search paths, environment variables and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// a missing file is fine, defaults and env vars still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns all resolved settings for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("models_dir", d.ModelsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("log_format", d.LogFormat)
	l.v.SetDefault("verbose", d.Verbose)
	l.v.SetDefault("mode", d.Mode)

	l.v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	l.v.SetDefault("pipeline.max_crops", d.Pipeline.MaxCrops)
	l.v.SetDefault("pipeline.min_token_conf", d.Pipeline.MinTokenConf)
	l.v.SetDefault("pipeline.loose_token_conf", d.Pipeline.LooseTokenConf)
	l.v.SetDefault("pipeline.min_crop_conf", d.Pipeline.MinCropConf)
	l.v.SetDefault("pipeline.early_exit_conf", d.Pipeline.EarlyExitConf)
	l.v.SetDefault("pipeline.final_min_conf", d.Pipeline.FinalMinConf)
	l.v.SetDefault("pipeline.phase2_floor", d.Pipeline.Phase2Floor)

	l.v.SetDefault("detector.enabled", d.Detector.Enabled)
	l.v.SetDefault("detector.model_path", d.Detector.ModelPath)
	l.v.SetDefault("detector.input_size", d.Detector.InputSize)
	l.v.SetDefault("detector.num_threads", d.Detector.NumThreads)
	l.v.SetDefault("detector.score_threshold", d.Detector.ScoreThreshold)
	l.v.SetDefault("detector.nms_threshold", d.Detector.NMSThreshold)
	l.v.SetDefault("detector.merge_y_tolerance", d.Detector.MergeYTolerance)
	l.v.SetDefault("detector.merge_x_gap", d.Detector.MergeXGap)
	l.v.SetDefault("detector.line_tolerance", d.Detector.LineTolerance)
	l.v.SetDefault("detector.pad_x", d.Detector.PadX)
	l.v.SetDefault("detector.pad_y", d.Detector.PadY)
	l.v.SetDefault("detector.min_pad", d.Detector.MinPad)

	for section, r := range map[string]RecognizerConfig{"recognizer": d.Recognizer, "secondary": d.Secondary} {
		l.v.SetDefault(section+".enabled", r.Enabled)
		l.v.SetDefault(section+".model_path", r.ModelPath)
		l.v.SetDefault(section+".dict_path", r.DictPath)
		l.v.SetDefault(section+".image_height", r.ImageHeight)
		l.v.SetDefault(section+".max_width", r.MaxWidth)
		l.v.SetDefault(section+".num_threads", r.NumThreads)
	}

	l.v.SetDefault("baseline.enabled", d.Baseline.Enabled)
	l.v.SetDefault("baseline.languages", d.Baseline.Languages)
	l.v.SetDefault("baseline.page_seg_mode", d.Baseline.PageSegMode)

	l.v.SetDefault("corpus.path", d.Corpus.Path)

	l.v.SetDefault("race.timeout", d.Race.Timeout)
	l.v.SetDefault("race.engine_timeout", d.Race.EngineTimeout)

	l.v.SetDefault("live.interval", d.Live.Interval)
	l.v.SetDefault("live.display", d.Live.Display)
	l.v.SetDefault("live.region_x", d.Live.RegionX)
	l.v.SetDefault("live.region_y", d.Live.RegionY)
	l.v.SetDefault("live.region_w", d.Live.RegionW)
	l.v.SetDefault("live.region_h", d.Live.RegionH)
	l.v.SetDefault("live.max_failures", d.Live.MaxFailures)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	l.v.SetDefault("server.max_data_per_day_mb", d.Server.MaxDataPerDayMB)

	l.v.SetDefault("batch.log_dir", d.Batch.LogDir)
	l.v.SetDefault("batch.timestamped", d.Batch.Timestamped)
	l.v.SetDefault("batch.recursive", d.Batch.Recursive)
	l.v.SetDefault("batch.format", d.Batch.Format)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes a configuration file holding every default.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the directories searched for configuration
// files, in order of precedence.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	paths = append(paths, filepath.Join(xdg.ConfigHome, ConfigFileName))
	for _, dir := range xdg.ConfigDirs {
		paths = append(paths, filepath.Join(dir, ConfigFileName))
	}
	return append(paths, filepath.Join("/etc", ConfigFileName))
}
