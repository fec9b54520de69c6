package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/ocrcascade/internal/config"
	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
	"github.com/MeKo-Tech/ocrcascade/internal/utils"
	"github.com/spf13/cobra"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image [flags] <file>...",
	Short: "Process images with the budgeted OCR pipeline",
	Long: `Process one or more image files with the two-phase pipeline of the
selected mode and print the final text of each.

Supported formats: JPEG, PNG, BMP, WebP

Examples:
  ocrcascade image receipt.png
  ocrcascade image *.png --mode fast --format json
  ocrcascade image label.jpg --race
  ocrcascade image scan.png --overlay-dir overlays --output result.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		race, _ := cmd.Flags().GetBool("race")
		return processImages(cmd, args, race)
	},
}

func init() {
	rootCmd.AddCommand(imageCmd)
	addImageOutputFlags(imageCmd)
	imageCmd.Flags().Bool("race", false, "race the engines instead of running the cascade")
	imageCmd.Flags().String("overlay-dir", "", "write detected region overlays to this directory")
}

// addImageOutputFlags registers the flags shared by image and race.
func addImageOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json)")
	cmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
}

// processImages runs every file through the pipeline or the race and writes
// the results. A file that cannot be loaded is reported and skipped.
func processImages(cmd *cobra.Command, files []string, race bool) error {
	cfg := GetConfig()
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}
	outputFile, _ := cmd.Flags().GetString("output")
	overlayDir := ""
	if f := cmd.Flags().Lookup("overlay-dir"); f != nil {
		overlayDir = f.Value.String()
	}

	runner, cleanup, err := newRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, closeOutput, err := openOutput(cmd.OutOrStdout(), outputFile)
	if err != nil {
		return err
	}
	defer func() { _ = closeOutput() }()

	results := make([]fileResult, 0, len(files))
	failed := 0
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		res := recognizeFile(ctx, runner, cfg, file, race, overlayDir)
		if res.Error != "" {
			failed++
		}
		results = append(results, res)
		if format == outputFormatText {
			writeFileResult(w, res)
		}
	}

	if format == outputFormatJSON {
		if err := writeJSON(w, results); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
	}
	if outputFile != "" {
		slog.Info("Results written", "file", outputFile, "images", len(results))
	}
	if failed == len(files) {
		return fmt.Errorf("all %d image(s) failed", failed)
	}
	return nil
}

// loadImage reads file and shrinks it to the default size constraints.
func loadImage(file string) (image.Image, error) {
	img, meta, err := utils.LoadImage(file)
	if err != nil {
		return nil, err
	}
	constraints := utils.DefaultImageConstraints()
	if err := utils.ValidateImageConstraints(img, constraints); err != nil {
		slog.Debug("Resizing image", "file", file, "width", meta.Width, "height", meta.Height, "reason", err)
		img = utils.FitWithin(img, constraints)
	}
	return img, nil
}

func recognizeFile(ctx context.Context, runner Runner, cfg *config.Config, file string, race bool, overlayDir string) fileResult {
	img, err := loadImage(file)
	if err != nil {
		slog.Warn("Skipping image", "file", file, "error", err)
		return fileResult{File: file, Error: err.Error()}
	}

	if race {
		res := runner.Race(ctx, img, cfg.RaceOptions())
		return fileResult{File: file, Race: &res}
	}

	res := runner.Run(ctx, img, cfg.Mode)
	if overlayDir != "" && res.Phase1 != nil {
		path, err := utils.SaveOverlay(overlayDir, file, img, res.Phase1.Detector.Regions, scoring.MinRegionConf)
		if err != nil {
			slog.Warn("Failed to save overlay", "file", file, "error", err)
		} else {
			slog.Debug("Overlay saved", "path", path)
		}
	}
	return fileResult{File: file, Pipeline: &res}
}

func writeFileResult(w io.Writer, res fileResult) {
	switch {
	case res.Error != "":
		_, _ = errorColor.Fprintf(w, "# %s\n! %s\n", res.File, res.Error)
	case res.Race != nil:
		printRaceResult(w, res.File, *res.Race)
	case res.Pipeline != nil:
		printPipelineResult(w, res.File, *res.Pipeline)
	}
}

// commandContext returns the command's context, falling back to Background
// when the command is run directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
