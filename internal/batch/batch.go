// Package batch runs the OCR pipeline, or an engine race, over directories
// of images and records the outcome in per-category run logs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/runlog"
	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
	"github.com/MeKo-Tech/ocrcascade/internal/utils"
)

// ErrNoImages is returned when discovery finds nothing to process.
var ErrNoImages = errors.New("no image files found")

// Runner is the part of the coordinator the batch runner needs.
type Runner interface {
	Run(ctx context.Context, img image.Image, modeName string) pipeline.Result
	Race(ctx context.Context, img image.Image, opts pipeline.RaceOptions) pipeline.RaceResult
}

// Item is the outcome for one input file.
type Item struct {
	Path     string              `json:"path"`
	Category string              `json:"category"`
	Entry    runlog.Entry        `json:"entry"`
	Meta     utils.ImageMetadata `json:"meta"`
}

// Text returns the accepted text for the item.
func (i Item) Text() string {
	switch {
	case i.Entry.Race != nil:
		return i.Entry.Race.FinalText
	case i.Entry.Pipeline != nil:
		return i.Entry.Pipeline.FinalResult.Text
	}
	return ""
}

// Reliable reports whether the item produced a trustworthy answer.
func (i Item) Reliable() bool {
	switch {
	case i.Entry.Race != nil:
		return i.Entry.Race.Reliable
	case i.Entry.Pipeline != nil:
		return i.Entry.Pipeline.FinalResult.Reliable
	}
	return false
}

// Result holds the result of batch processing.
type Result struct {
	Items    []Item        `json:"items"`
	Log      runlog.Log    `json:"-"`
	LogFiles []string      `json:"log_files,omitempty"`
	Duration time.Duration `json:"duration"`
	Failed   int           `json:"failed"`
	Race     bool          `json:"race"`
}

// Summaries returns per-engine statistics for the run.
func (r *Result) Summaries() []runlog.EngineSummary {
	return runlog.Summarize(r.Log)
}

// ProcessBatch discovers images under inputs and runs each one through
// runner. Unreadable images are recorded as failed entries and processing
// continues; only cancellation stops the batch early.
func ProcessBatch(ctx context.Context, runner Runner, inputs []string, config Config, progress ProgressCallback) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch config: %w", err)
	}
	files, err := discoverImageFiles(inputs, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	res := &Result{Log: runlog.Log{}, Items: make([]Item, 0, len(files)), Race: config.Race}
	start := time.Now()
	progress.OnStart(len(files))

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("batch cancelled after %d of %d images: %w", i, len(files), err)
		}

		item, err := processFile(ctx, runner, path, config)
		if err != nil {
			res.Failed++
			progress.OnError(i+1, path, err)
			slog.Warn("Image failed", "file", path, "error", err)
		}
		res.Items = append(res.Items, item)
		res.Log.Add(item.Category, filepath.Base(path), item.Entry)
		progress.OnItem(i+1, len(files), item)
	}

	res.Duration = time.Since(start)
	progress.OnComplete()

	if config.LogDir != "" {
		written, err := saveCategoryLogs(res.Log, config.LogDir, config.Timestamped)
		res.LogFiles = written
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func processFile(ctx context.Context, runner Runner, path string, config Config) (Item, error) {
	item := Item{Path: path, Category: categoryOf(path)}

	img, meta, err := utils.LoadImage(path)
	if err != nil {
		item.Entry.Error = err.Error()
		return item, fmt.Errorf("failed to load %s: %w", path, err)
	}
	item.Meta = meta
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		slog.Warn("Image does not meet constraints, processing anyway", "file", path, "error", err)
	}
	img = utils.FitWithin(img, utils.DefaultImageConstraints())

	if config.Race {
		race := runner.Race(ctx, img, config.RaceOptions)
		item.Entry.Race = &race
		return item, nil
	}

	result := runner.Run(ctx, img, config.Mode)
	item.Entry.Pipeline = &result
	item.Entry.Engines = engineResults(result)
	item.Entry.Error = result.Error

	if config.OverlayDir != "" && result.Phase1 != nil {
		if _, err := utils.SaveOverlay(config.OverlayDir, path, img, result.Phase1.Detector.Regions, scoring.MinRegionConf); err != nil {
			slog.Warn("Failed to write overlay", "file", path, "error", err)
		}
	}
	return item, nil
}

// engineResults flattens the per-engine results the pipeline recorded.
func engineResults(r pipeline.Result) map[string]engine.EngineResult {
	out := map[string]engine.EngineResult{}
	if r.Phase1 != nil {
		out[pipeline.EngineBaseline] = r.Phase1.Baseline
	}
	if r.Phase2 != nil {
		for _, step := range r.Phase2.Steps {
			out[step.Result.Engine] = step.Result
		}
	}
	return out
}

// saveCategoryLogs writes one JSON log per category into dir.
func saveCategoryLogs(l runlog.Log, dir string, timestamped bool) ([]string, error) {
	var written []string
	for _, category := range l.Categories() {
		path := filepath.Join(dir, category+".json")
		backup, err := runlog.Save(runlog.Log{category: l[category]}, path, timestamped)
		if err != nil {
			return written, fmt.Errorf("failed to save %s log: %w", category, err)
		}
		written = append(written, path)
		if backup != "" {
			written = append(written, backup)
		}
	}
	return written, nil
}
