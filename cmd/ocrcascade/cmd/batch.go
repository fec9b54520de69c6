package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/batch"
	"github.com/MeKo-Tech/ocrcascade/internal/config"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command.
var batchCmd = &cobra.Command{
	Use:   "batch [files or directories...]",
	Short: "Process a collection of images and write per-category run logs",
	Long: `Process every image found under the given files and directories one after
another. Each image's parent directory is its category; per-category JSON
logs and engine statistics are written to the log directory.

Examples:
  ocrcascade batch samples/
  ocrcascade batch samples/ --race --log-dir logs --timestamped
  ocrcascade batch a.png b.jpg --format csv --output results.csv
  ocrcascade batch samples/ --include "*.png" --exclude "*_mask*"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatchCommand,
}

// configToBatchConfig maps centralized configuration to batch.Config.
// Explicitly set flags override the configuration.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) batch.Config {
	bc := batch.DefaultConfig()
	bc.Mode = cfg.Mode
	bc.RaceOptions = cfg.RaceOptions()
	bc.Format = cfg.Batch.Format
	bc.Recursive = cfg.Batch.Recursive
	bc.Timestamped = cfg.Batch.Timestamped
	bc.LogDir = cfg.Batch.LogDir

	flags := cmd.Flags()
	bc.Race, _ = flags.GetBool("race")
	if flags.Changed("format") {
		bc.Format, _ = flags.GetString("format")
	}
	if flags.Changed("recursive") {
		bc.Recursive, _ = flags.GetBool("recursive")
	}
	if flags.Changed("timestamped") {
		bc.Timestamped, _ = flags.GetBool("timestamped")
	}
	if flags.Changed("log-dir") {
		bc.LogDir, _ = flags.GetString("log-dir")
	}
	bc.IncludePatterns, _ = flags.GetStringSlice("include")
	bc.ExcludePatterns, _ = flags.GetStringSlice("exclude")
	bc.OutputFile, _ = flags.GetString("output")
	bc.OverlayDir, _ = flags.GetString("overlay-dir")
	bc.ShowProgress, _ = flags.GetBool("progress")
	bc.Quiet, _ = flags.GetBool("quiet")
	bc.ProgressInterval, _ = flags.GetDuration("progress-interval")
	return bc
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	bc := configToBatchConfig(cfg, cmd)
	if err := bc.Validate(); err != nil {
		return err
	}

	runner, cleanup, err := newRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress batch.ProgressCallback
	switch {
	case bc.Quiet:
		progress = batch.NoOpProgressCallback{}
	case bc.ShowProgress:
		progress = batch.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Processing").WithUpdateInterval(bc.ProgressInterval)
	default:
		progress = batch.NewLogProgressCallback(slog.Default(), slog.LevelInfo, 10)
	}

	res, err := batch.ProcessBatch(ctx, runner, args, bc, progress)
	if res == nil {
		return err
	}

	formatted, ferr := res.FormatResults(bc.Format)
	if ferr != nil {
		return fmt.Errorf("failed to format results: %w", ferr)
	}
	w, closeOutput, oerr := openOutput(cmd.OutOrStdout(), bc.OutputFile)
	if oerr != nil {
		return oerr
	}
	defer func() { _ = closeOutput() }()
	if _, werr := fmt.Fprint(w, formatted); werr != nil {
		return fmt.Errorf("failed to write results: %w", werr)
	}

	if !bc.Quiet {
		res.PrintSummary(cmd.ErrOrStderr())
	}
	for _, f := range res.LogFiles {
		slog.Info("Run log written", "file", f)
	}
	return err
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Bool("race", false, "race the engines instead of running the cascade")

	// Output flags
	batchCmd.Flags().StringP("format", "f", "text", "output format: text, json, csv")
	batchCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	batchCmd.Flags().String("overlay-dir", "", "directory to save region overlay images")
	batchCmd.Flags().String("log-dir", "", "directory for per-category run logs (default from config)")
	batchCmd.Flags().Bool("timestamped", false, "add a timestamp to run log file names")

	// File discovery flags
	batchCmd.Flags().BoolP("recursive", "r", true, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", []string{}, "file patterns to include (e.g., *.png)")
	batchCmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")

	// Progress flags
	batchCmd.Flags().Bool("progress", false, "show progress bar")
	batchCmd.Flags().Bool("quiet", false, "suppress progress output and summary")
	batchCmd.Flags().Duration("progress-interval", 100*time.Millisecond, "progress update interval")
}
