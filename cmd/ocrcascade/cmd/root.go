package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/ocrcascade/internal/config"
	"github.com/MeKo-Tech/ocrcascade/internal/models"
	"github.com/MeKo-Tech/ocrcascade/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
	// Environment files loaded before configuration.
	envFiles []string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ocrcascade",
	Short: "Budgeted multi-engine OCR",
	Long: `ocrcascade extracts text from images by orchestrating several unreliable
recognition engines and a text-region detector, picking the best available
answer within the time budget of the selected mode.

Engines:
- baseline: tesseract on the whole image
- guided: neural line recognizer on detected regions or the whole image
- secondary: a second neural recognizer used in races and as a fallback
- detector: EAST text-region detector

Modes:
  fast      1s budget, no pacing
  steady    5s budget, results no faster than every 2s (default)
  extended  unbounded, results no faster than every 10s

Examples:
  ocrcascade image receipt.png --mode fast
  ocrcascade race receipt.png
  ocrcascade batch ./samples --log-dir logs
  ocrcascade live --region 0,0,800,200
  ocrcascade serve --port 8080`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.Version = version.Get().String()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is search in ., $HOME, $XDG_CONFIG_HOME/ocrcascade, /etc/ocrcascade)")
	flags.StringSliceVar(&envFiles, "env-file", []string{config.DotEnvFile}, "environment files loaded before configuration")
	flags.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("models-dir", models.DefaultModelsDir,
		"directory containing models (can also be set via "+models.EnvModelsDir+")")
	flags.StringP("mode", "m", "steady", "execution mode (fast, steady, extended or a configured mode)")
	flags.Bool("gpu", false, "use CUDA for ONNX models")

	bindFlags(flags, map[string]string{
		"verbose":     "verbose",
		"log_level":   "log-level",
		"log_format":  "log-format",
		"models_dir":  "models-dir",
		"mode":        "mode",
		"gpu.enabled": "gpu",
	})

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		if err := initConfig(); err != nil {
			return err
		}
		setupLogging(cmd.ErrOrStderr(), globalConfig)
		return nil
	}
}

// bindFlags binds viper keys to the named flags of fs.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// setupLogging installs the default slog logger. Logs go to w so command
// output on stdout stays machine readable.
func setupLogging(w io.Writer, cfg *config.Config) {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetConfig returns the global configuration, loading it if needed.
func GetConfig() *config.Config {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			slog.Error("falling back to default configuration", "error", err)
			cfg := config.DefaultConfig()
			globalConfig = &cfg
		}
	}
	return globalConfig
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
