package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/ocrcascade/internal/config"
	"github.com/MeKo-Tech/ocrcascade/internal/detector"
	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/onnx"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/recognizer"
	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
	"github.com/MeKo-Tech/ocrcascade/internal/tesseract"
)

// Runner is the pipeline surface the commands use.
type Runner interface {
	Run(ctx context.Context, img image.Image, mode string) pipeline.Result
	Race(ctx context.Context, img image.Image, opts pipeline.RaceOptions) pipeline.RaceResult
}

var errNoEngines = errors.New("no engine could be loaded; check models_dir and the tesseract build tag")

// newRunner builds the pipeline from configuration and returns a cleanup
// function. Tests replace it with fakes.
var newRunner = buildRunner

func buildRunner(cfg *config.Config) (Runner, func(), error) {
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, nil, err
	}

	engines := pipeline.Engines{Geometry: cfg.GeometryConfig()}
	onnxReady := false
	if cfg.Detector.Enabled || cfg.Recognizer.Enabled || cfg.Secondary.Enabled {
		if err := onnx.Init(cfg.GPU.Enabled); err != nil {
			slog.Warn("ONNX Runtime unavailable, neural engines disabled", "error", err)
		} else {
			onnxReady = true
		}
	}

	if onnxReady && cfg.Detector.Enabled {
		if d, err := loadDetector(cfg); err != nil {
			slog.Warn("detector disabled", "error", err)
		} else {
			engines.Detector = d
		}
	}
	if onnxReady && cfg.Recognizer.Enabled {
		if r, err := loadRecognizer(cfg, false); err != nil {
			slog.Warn("guided recognizer disabled", "error", err)
		} else {
			engines.Guided = r
		}
	}
	if onnxReady && cfg.Secondary.Enabled {
		if r, err := loadRecognizer(cfg, true); err != nil {
			slog.Warn("secondary recognizer disabled", "error", err)
		} else {
			engines.Secondary = r
		}
	}
	if cfg.Baseline.Enabled {
		if t, err := tesseract.New(cfg.TesseractConfig()); err != nil {
			slog.Warn("baseline engine disabled", "error", err)
		} else {
			engines.Baseline = t
		}
	}

	if corpus, err := scoring.LoadCorpus(cfg.CorpusPath()); err != nil {
		slog.Warn("corpus unavailable, corpus scores will be 0", "path", cfg.CorpusPath(), "error", err)
	} else {
		engines.Corpus = corpus
		slog.Debug("corpus loaded", "path", cfg.CorpusPath(), "words", corpus.Size())
	}

	shutdown := func() {
		if onnxReady {
			onnx.Shutdown()
		}
	}
	if engines.Detector == nil && engines.Baseline == nil && engines.Guided == nil && engines.Secondary == nil {
		shutdown()
		return nil, nil, errNoEngines
	}

	pool := pipeline.NewPool(cfg.Pipeline.Workers)
	coordinator := pipeline.New(engines, pool, opts)
	slog.Info("pipeline ready",
		"detector", engines.Detector != nil,
		"baseline", engines.Baseline != nil,
		"guided", engines.Guided != nil,
		"secondary", engines.Secondary != nil,
		"workers", pool.Workers())

	cleanup := func() {
		pool.Close()
		if err := engines.Close(); err != nil {
			slog.Warn("failed to release engines", "error", err)
		}
		shutdown()
	}
	return coordinator, cleanup, nil
}

func loadDetector(cfg *config.Config) (engine.Detector, error) {
	eastCfg, err := cfg.EASTConfig()
	if err != nil {
		return nil, err
	}
	d, err := detector.NewEAST(eastCfg)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", eastCfg.ModelPath, err)
	}
	return d, nil
}

func loadRecognizer(cfg *config.Config, secondary bool) (engine.Recognizer, error) {
	recCfg, err := cfg.RecognizerConfig(secondary)
	if err != nil {
		return nil, err
	}
	r, err := recognizer.New(recCfg)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", recCfg.ModelPath, err)
	}
	return r, nil
}
