package batch

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Mode names the pipeline policy used for every image.
	Mode string
	// Race runs the engines head to head instead of the cascade.
	Race        bool
	RaceOptions pipeline.RaceOptions

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Output settings
	Format      string
	OutputFile  string
	LogDir      string
	Timestamped bool
	OverlayDir  string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
}

// DefaultConfig returns a batch configuration for the default mode.
func DefaultConfig() Config {
	return Config{
		Mode:             mode.Fast,
		Format:           FormatText,
		Recursive:        true,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Validate checks the configuration for unsupported values.
func (c Config) Validate() error {
	if c.Mode == "" && !c.Race {
		return errors.New("mode cannot be empty")
	}
	if !slices.Contains([]string{FormatText, FormatJSON, FormatCSV}, c.Format) {
		return fmt.Errorf("unsupported format %q (want text, json or csv)", c.Format)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval must be non-negative, got %v", c.ProgressInterval)
	}
	return nil
}
