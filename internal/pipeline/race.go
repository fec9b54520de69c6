package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
)

// Race defaults.
const (
	DefaultRaceTimeout   = 5 * time.Second
	DefaultEngineTimeout = 3500 * time.Millisecond
	MaxRaceEngines       = 3
)

// RaceEngine is one competitor in a race.
type RaceEngine struct {
	Name string
	Run  func(ctx context.Context, img image.Image) (engine.EngineResult, error)
}

// RaceOptions bounds a race.
type RaceOptions struct {
	Timeout       time.Duration // whole race
	EngineTimeout time.Duration // each engine
}

// RaceResult is the outcome of a race. Winner is nil when no engine produced
// a reliable result.
type RaceResult struct {
	Winner        *string                        `json:"winner"`
	FinalText     string                         `json:"final_text"`
	Confidence    float64                        `json:"confidence"`
	CorpusScore   float64                        `json:"corpus_score"`
	Reliable      bool                           `json:"reliable"`
	Runtime       engine.Seconds                 `json:"runtime"`
	WinnerRuntime *engine.Seconds                `json:"winner_runtime"`
	AllOutputs    map[string]engine.EngineResult `json:"all_outputs"`
}

type raceOutcome struct {
	index  int
	result engine.EngineResult
	err    error
}

// RunRace runs engines concurrently on pool. The first reliable result wins
// and cancels the shared context, so queued engines are skipped; engines
// still running are abandoned. Engines that have not finished when the race
// times out are reported as skipped and timed out.
func RunRace(ctx context.Context, pool *Pool, img image.Image, engines []RaceEngine, opts RaceOptions) RaceResult {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRaceTimeout
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = DefaultEngineTimeout
	}
	if len(engines) > MaxRaceEngines {
		slog.Warn("too many race engines, extra engines ignored", "engines", len(engines), "max", MaxRaceEngines)
		engines = engines[:MaxRaceEngines]
	}

	start := time.Now()
	groupDeadline := start.Add(opts.Timeout)
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan raceOutcome, len(engines))
	futures := make([]*Future[engine.EngineResult], len(engines))
	for i, e := range engines {
		futures[i] = Submit(raceCtx, pool, func(ctx context.Context) (engine.EngineResult, error) {
			return e.Run(ctx, img)
		})
		engineDeadline := time.Now().Add(opts.EngineTimeout)
		if groupDeadline.Before(engineDeadline) {
			engineDeadline = groupDeadline
		}
		go func() {
			res, err := futures[i].AwaitUntil(engineDeadline)
			outcomes <- raceOutcome{index: i, result: res, err: err}
		}()
	}

	result := RaceResult{AllOutputs: make(map[string]engine.EngineResult, len(engines))}
	reported := make([]bool, len(engines))
	var winner *engine.EngineResult

	for range engines {
		o := <-outcomes
		reported[o.index] = true
		name := engines[o.index].Name
		out := raceOutput(name, o, futures[o.index])
		result.AllOutputs[name] = out
		if o.err == nil && out.Reliable {
			winner = &out
			slog.Info("race winner", "engine", name, "confidence", out.Confidence)
			cancel()
			break
		}
	}

	for i, e := range engines {
		if reported[i] {
			continue
		}
		out := engine.Empty(e.Name)
		out.Skipped = true
		out.Aborted = true
		result.AllOutputs[e.Name] = out
	}

	result.Runtime = engine.Seconds(time.Since(start))
	if winner != nil {
		name := winner.Engine
		rt := winner.Runtime
		result.Winner = &name
		result.FinalText = winner.Text
		result.Confidence = winner.Confidence
		result.CorpusScore = winner.CorpusScore
		result.Reliable = true
		result.WinnerRuntime = &rt
	}
	return result
}

func raceOutput(name string, o raceOutcome, f *Future[engine.EngineResult]) engine.EngineResult {
	out := o.result
	switch {
	case o.err == nil:
		out.Runtime = engine.Seconds(f.Runtime())
	case engine.IsTimeout(o.err):
		out = engine.Empty(name)
		out.Skipped = true
		out.TimedOut = true
		out.Error = o.err.Error()
	case errors.Is(o.err, engine.ErrSkipped):
		out = engine.Empty(name)
		out.Skipped = true
		out.Aborted = true
	default:
		slog.Warn("race engine failed", "engine", name, "error", o.err)
		out = engine.Empty(name)
		out.Error = o.err.Error()
	}
	out.Engine = name
	return out
}

// RaceEngines returns the standard competitors: the baseline engine, the
// guided recognizer (on detector crops when regions are found, else on the
// whole image) and, when configured, the secondary recognizer.
func (c *Coordinator) RaceEngines() []RaceEngine {
	engines := []RaceEngine{
		{Name: EngineBaseline, Run: func(ctx context.Context, img image.Image) (engine.EngineResult, error) {
			tokens, err := c.recognize(ctx, c.engines.Baseline, EngineBaseline, img)
			if err != nil {
				return engine.EngineResult{}, err
			}
			return scoring.ParseBaseline(tokens, c.engines.Corpus), nil
		}},
		{Name: EngineGuided, Run: c.raceGuided},
	}
	if c.engines.Secondary != nil {
		engines = append(engines, RaceEngine{Name: EngineSecondary, Run: func(ctx context.Context, img image.Image) (engine.EngineResult, error) {
			tokens, err := c.recognize(ctx, c.engines.Secondary, EngineSecondary, img)
			if err != nil {
				return engine.EngineResult{}, err
			}
			return scoring.ParseNeural(tokens, c.opts.MinTokenConf, c.engines.Corpus), nil
		}})
	}
	return engines
}

func (c *Coordinator) raceGuided(ctx context.Context, img image.Image) (engine.EngineResult, error) {
	det, err := c.detect(ctx, img)
	if err != nil {
		slog.Warn("race detector failed, using full image", "error", err)
		det = engine.DetectorResult{}
	}
	if det.RegionCount > 0 {
		return c.guidedCrops(ctx, img, det)
	}
	tokens, err := c.recognize(ctx, c.engines.Guided, EngineGuided, img)
	if err != nil {
		return engine.EngineResult{}, err
	}
	return scoring.ParseNeural(tokens, c.opts.MinTokenConf, c.engines.Corpus), nil
}

// Race runs the standard competitors on the coordinator's pool.
func (c *Coordinator) Race(ctx context.Context, img image.Image, opts RaceOptions) RaceResult {
	if img == nil {
		return RaceResult{AllOutputs: map[string]engine.EngineResult{}}
	}
	return RunRace(ctx, c.pool, img, c.RaceEngines(), opts)
}
