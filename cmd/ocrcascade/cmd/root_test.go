package cmd

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "ocrcascade", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommandHelp(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Help())
	output := buf.String()
	assert.Contains(t, output, "Budgeted multi-engine OCR")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "--mode")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"image", "race", "batch", "bench", "pdf", "live", "serve", "config", "models", "version"} {
		assert.Contains(t, names, expected, "missing subcommand %s", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	_, err := executeCommand(t, "version", "--no-such-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "ocrcascade dev")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.DefaultConfig()
	cfg.LogFormat = "text"
	cfg.Verbose = true
	buf := new(bytes.Buffer)
	setupLogging(buf, &cfg)

	slog.Debug("debug line", "key", "value")
	assert.Contains(t, buf.String(), `msg="debug line"`)
	assert.Contains(t, buf.String(), "key=value")
}

func TestModeFlagReachesRunner(t *testing.T) {
	fake := useFakeRunner(t)
	files := writeImages(t, t.TempDir(), "a.png")

	_, err := executeCommand(t, "image", files[0], "--format", "text", "--race=false", "--mode", "fast")
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, fake.ranModes())
}
