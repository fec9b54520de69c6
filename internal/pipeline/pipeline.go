// Package pipeline orchestrates the detector and the recognition engines
// under a time budget: a two-phase plan that stops early on a confident
// baseline result and otherwise cascades through guided and full-image
// neural recognition, plus a head-to-head race of all engines.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/detector"
	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
)

// Engine tags reported in results.
const (
	EngineBaseline    = "baseline"
	EngineDetector    = "detector"
	EngineGuided      = "guided"
	EngineGuidedFull  = "guided-full"
	EngineGuidedLoose = "guided-full-loose"
	EngineSecondary   = "secondary"
	enginePipeline    = "pipeline"
)

// Case tags identifying which stage produced the final result.
const (
	CasePhase1    = "phase1"
	CasePhase2    = "phase2"
	CaseException = "exception"
)

// CaseTag returns the tag of a Phase 2 case.
func CaseTag(n int) string {
	if n <= 0 {
		return CasePhase2
	}
	return fmt.Sprintf("phase2_case%d", n)
}

var errNotConfigured = errors.New("engine not configured")

// Engines bundles the loaded detector and recognizers. It is built once at
// startup and shared read-only by every run.
type Engines struct {
	Detector  engine.Detector
	Baseline  engine.Recognizer
	Guided    engine.Recognizer
	Secondary engine.Recognizer
	Corpus    *scoring.Corpus
	Geometry  detector.GeometryConfig
}

// Close releases engines that hold native resources.
func (e Engines) Close() error {
	var errs []error
	for _, c := range []any{e.Detector, e.Baseline, e.Guided, e.Secondary} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Default cascade thresholds.
const (
	DefaultMaxCrops      = 5
	DefaultEarlyExitConf = 0.8
	DefaultFinalMinConf  = 0.5
	DefaultPhase2Floor   = 500 * time.Millisecond
)

// Options tunes the cascade.
type Options struct {
	MaxCrops       int           // guided case runs only below this region count
	MinTokenConf   float64       // per-token threshold for guided and full-image runs
	LooseTokenConf float64       // per-token threshold of the last case
	MinCropConf    float64       // per-crop floor when aggregating guided crops
	EarlyExitConf  float64       // a case with text at or above this confidence ends the cascade
	FinalMinConf   float64       // final results below this are blanked
	Phase2Floor    time.Duration // minimum Phase 2 slice
	Modes          *mode.Table   // nil = built-in modes
}

// DefaultOptions returns the standard cascade thresholds.
func DefaultOptions() Options {
	return Options{
		MaxCrops:       DefaultMaxCrops,
		MinTokenConf:   scoring.DefaultMinToken,
		LooseTokenConf: scoring.LooseMinToken,
		MinCropConf:    scoring.DefaultCropConf,
		EarlyExitConf:  DefaultEarlyExitConf,
		FinalMinConf:   DefaultFinalMinConf,
		Phase2Floor:    DefaultPhase2Floor,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxCrops <= 0 {
		o.MaxCrops = d.MaxCrops
	}
	if o.MinTokenConf <= 0 {
		o.MinTokenConf = d.MinTokenConf
	}
	if o.LooseTokenConf <= 0 {
		o.LooseTokenConf = d.LooseTokenConf
	}
	if o.MinCropConf <= 0 {
		o.MinCropConf = d.MinCropConf
	}
	if o.EarlyExitConf <= 0 {
		o.EarlyExitConf = d.EarlyExitConf
	}
	if o.FinalMinConf <= 0 {
		o.FinalMinConf = d.FinalMinConf
	}
	if o.Phase2Floor <= 0 {
		o.Phase2Floor = d.Phase2Floor
	}
	if o.Modes == nil {
		o.Modes = mode.Builtin()
	}
	return o
}

// Result is the outcome of one pipeline run.
type Result struct {
	FinalResult   engine.EngineResult `json:"final_result"`
	CaseTriggered string              `json:"case_triggered"`
	TotalRuntime  engine.Seconds      `json:"total_runtime"`
	Mode          string              `json:"mode"`
	Error         string              `json:"error,omitempty"`
	Phase1        *Phase1Summary      `json:"phase1,omitempty"`
	Phase2        *CaseLog            `json:"phase2,omitempty"`
}

// Coordinator runs the two-phase plan. It is safe for concurrent use.
type Coordinator struct {
	engines Engines
	pool    *Pool
	opts    Options
}

// New creates a coordinator over the given engines and worker pool.
func New(engines Engines, pool *Pool, opts Options) *Coordinator {
	if pool == nil {
		pool = NewPool(DefaultWorkers)
	}
	if engines.Geometry == (detector.GeometryConfig{}) {
		engines.Geometry = detector.DefaultGeometryConfig()
	}
	return &Coordinator{engines: engines, pool: pool, opts: opts.withDefaults()}
}

// Modes returns the mode table used to resolve mode names.
func (c *Coordinator) Modes() *mode.Table { return c.opts.Modes }

// Pool returns the worker pool engines run on.
func (c *Coordinator) Pool() *Pool { return c.pool }

// Run extracts text from img within the budget of the named mode. It never
// returns an error: failures surface as an unreliable result carrying the
// error message. Every result, failed ones included, is paced to the mode's
// minimum interval.
func (c *Coordinator) Run(ctx context.Context, img image.Image, modeName string) (result Result) {
	start := time.Now()
	policy := c.opts.Modes.Lookup(modeName)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", engine.ErrPipelineFailure, r)
			slog.Error("pipeline run failed", "mode", policy.Name, "error", err, "stack", string(debug.Stack()))
			result = exceptionResult(policy.Name, err, policy.Pace(ctx, start))
		}
	}()

	if img == nil {
		return exceptionResult(policy.Name, fmt.Errorf("%w: input image is nil", engine.ErrPipelineFailure), policy.Pace(ctx, start))
	}

	result.Mode = policy.Name
	p1 := c.runPhase1(ctx, img, policy.Budget)
	result.Phase1 = &p1
	final := p1.Baseline
	result.CaseTriggered = CasePhase1

	elapsed := time.Since(start)
	if !p1.Accepted() && elapsed < policy.Budget {
		budget := max(c.opts.Phase2Floor, policy.Budget-elapsed)
		p2 := c.runPhase2(ctx, img, p1.Detector, budget)
		result.Phase2 = &p2
		final = p2.Final
		result.CaseTriggered = CaseTag(p2.Triggered)
	}

	result.FinalResult = c.finalFilter(final)
	result.TotalRuntime = engine.Seconds(policy.Pace(ctx, start))

	slog.Info("pipeline run complete",
		"mode", policy.Name,
		"case", result.CaseTriggered,
		"engine", result.FinalResult.Engine,
		"reliable", result.FinalResult.Reliable,
		"confidence", result.FinalResult.Confidence,
		"runtime", result.TotalRuntime.Float())
	return result
}

// finalFilter blanks results that are unreliable or below the final
// confidence floor. The confidence is kept for diagnostics.
func (c *Coordinator) finalFilter(r engine.EngineResult) engine.EngineResult {
	if !r.Reliable || r.Confidence < c.opts.FinalMinConf {
		r.Text = ""
		r.Reliable = false
	}
	return r
}

func exceptionResult(modeName string, err error, elapsed time.Duration) Result {
	final := engine.Empty(enginePipeline)
	final.Error = err.Error()
	return Result{
		FinalResult:   final,
		CaseTriggered: CaseException,
		TotalRuntime:  engine.Seconds(elapsed),
		Mode:          modeName,
		Error:         err.Error(),
	}
}

// detect runs the detector and the geometry processor. Without a detector
// the empty result is returned.
func (c *Coordinator) detect(ctx context.Context, img image.Image) (engine.DetectorResult, error) {
	if c.engines.Detector == nil {
		return engine.DetectorResult{}, nil
	}
	out, err := c.engines.Detector.Detect(ctx, img)
	if err != nil {
		return engine.DetectorResult{}, asEngineError(EngineDetector, "detect", err)
	}
	b := img.Bounds()
	return detector.Process(out, b.Dx(), b.Dy(), c.engines.Geometry)
}

// recognize runs r on img, tagging failures with the engine role.
func (c *Coordinator) recognize(ctx context.Context, r engine.Recognizer, role string, img image.Image) ([]engine.Token, error) {
	if r == nil {
		return nil, engine.Failure(role, "recognize", errNotConfigured)
	}
	tokens, err := r.Recognize(ctx, img)
	if err != nil {
		return nil, asEngineError(role, "recognize", err)
	}
	return tokens, nil
}

func asEngineError(role, op string, err error) error {
	var engErr *engine.Error
	if errors.As(err, &engErr) || errors.Is(err, engine.ErrEngineFailure) || errors.Is(err, engine.ErrDecoder) {
		return err
	}
	return engine.Failure(role, op, err)
}

// guidedCrops recognizes each padded detector region and aggregates the
// per-crop results in reading order.
func (c *Coordinator) guidedCrops(ctx context.Context, img image.Image, det engine.DetectorResult) (engine.EngineResult, error) {
	crops := detector.CropRegions(img, det)
	results := make([]engine.EngineResult, 0, len(crops))
	var lastErr error
	for _, crop := range crops {
		if err := ctx.Err(); err != nil {
			return engine.EngineResult{}, err
		}
		tokens, err := c.recognize(ctx, c.engines.Guided, EngineGuided, crop.Image)
		if err != nil {
			slog.Warn("guided crop failed", "index", crop.Index, "error", err)
			lastErr = err
			continue
		}
		results = append(results, scoring.ParseNeural(tokens, c.opts.MinTokenConf, c.engines.Corpus))
	}
	if len(results) == 0 && lastErr != nil {
		return engine.EngineResult{}, lastErr
	}
	res := scoring.AggregateCrops(results, c.opts.MinCropConf, c.engines.Corpus)
	res.Engine = EngineGuided
	return res, nil
}
