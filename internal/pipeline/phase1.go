package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/common"
	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
)

// Phase1Summary records the concurrent detector and baseline runs.
type Phase1Summary struct {
	Detector            engine.DetectorResult `json:"detector"`
	Baseline            engine.EngineResult   `json:"baseline"`
	DetectorRuntime     engine.Seconds        `json:"detector_runtime"`
	BaselineRuntime     engine.Seconds        `json:"baseline_runtime"`
	DetectorError       string                `json:"detector_error,omitempty"`
	Elapsed             engine.Seconds        `json:"elapsed"`
	Budget              engine.Seconds        `json:"budget"`
	BudgetExceeded      bool                  `json:"budget_exceeded"`
	AvgRegionConfidence float64               `json:"avg_region_confidence"`
	ReliableRegions     int                   `json:"reliable_regions"`
}

// Accepted reports whether the baseline is confident enough to stop after
// Phase 1.
func (s Phase1Summary) Accepted() bool {
	return s.Baseline.Confidence >= scoring.MinConfidence
}

// runPhase1 submits the detector and the baseline engine (in that order) and
// waits for both against one deadline. Timeouts and failures are replaced by
// empty results.
func (c *Coordinator) runPhase1(ctx context.Context, img image.Image, budget time.Duration) Phase1Summary {
	deadline := common.NewDeadline(budget)

	detF := Submit(ctx, c.pool, func(ctx context.Context) (engine.DetectorResult, error) {
		return c.detect(ctx, img)
	})
	baseF := Submit(ctx, c.pool, func(ctx context.Context) (engine.EngineResult, error) {
		tokens, err := c.recognize(ctx, c.engines.Baseline, EngineBaseline, img)
		if err != nil {
			return engine.EngineResult{}, err
		}
		return scoring.ParseBaseline(tokens, c.engines.Corpus), nil
	})

	summary := Phase1Summary{Budget: engine.Seconds(budget)}

	det, err := detF.AwaitUntil(deadline.At())
	summary.DetectorRuntime = engine.Seconds(taskRuntime(detF, deadline))
	if err != nil {
		slog.Warn("detector unavailable, continuing without regions", "error", err)
		summary.DetectorError = err.Error()
		det = engine.DetectorResult{}
	}
	summary.Detector = det
	summary.AvgRegionConfidence = det.AverageConfidence()
	for _, r := range det.Regions {
		if scoring.RegionReliable(r.Confidence) {
			summary.ReliableRegions++
		}
	}

	base, err := baseF.AwaitUntil(deadline.At())
	runtime := taskRuntime(baseF, deadline)
	if err != nil {
		slog.Warn("baseline engine unavailable", "error", err)
		base = engine.Empty(EngineBaseline)
		base.Error = err.Error()
		base.TimedOut = engine.IsTimeout(err)
	}
	base.Engine = EngineBaseline
	base.Runtime = engine.Seconds(runtime)
	summary.Baseline = base
	summary.BaselineRuntime = base.Runtime

	elapsed := deadline.Elapsed()
	summary.Elapsed = engine.Seconds(elapsed)
	summary.BudgetExceeded = elapsed >= budget

	slog.Debug("phase 1 complete",
		"regions", det.RegionCount,
		"avg_region_confidence", summary.AvgRegionConfidence,
		"baseline_confidence", base.Confidence,
		"baseline_reliable", base.Reliable,
		"elapsed", summary.Elapsed.Float(),
		"budget_exceeded", summary.BudgetExceeded)
	return summary
}

// taskRuntime returns the measured runtime of a finished task, or the time
// spent waiting on one that was abandoned.
func taskRuntime[T any](f *Future[T], deadline common.Deadline) time.Duration {
	select {
	case <-f.Done():
		return f.Runtime()
	default:
		return deadline.Elapsed()
	}
}
