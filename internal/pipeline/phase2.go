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

// Step statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// Step is one attempted cascade case.
type Step struct {
	Case   int                 `json:"case"`
	Status string              `json:"status"`
	Result engine.EngineResult `json:"result"`
}

// CaseLog records the Phase 2 cascade.
type CaseLog struct {
	Triggered int                 `json:"case_triggered"`
	Steps     []Step              `json:"steps"`
	Final     engine.EngineResult `json:"final_result"`
	BestCase  int                 `json:"best_case,omitempty"`
	Skipped   []int               `json:"skipped_cases,omitempty"`
	Runtime   engine.Seconds      `json:"total_runtime"`
	Budget    engine.Seconds      `json:"budget"`
}

var casePaths = map[int]string{
	1: "Phase2 Case 1: guided recognition on detector regions",
	2: "Phase2 Case 2: full image",
	3: "Phase2 Case 3: full image, loose token threshold",
}

func caseEngine(n int) string {
	switch n {
	case 1:
		return EngineGuided
	case 2:
		return EngineGuidedFull
	default:
		return EngineGuidedLoose
	}
}

// guidedEligible reports whether the detector found few enough regions for
// guided cropping.
func (c *Coordinator) guidedEligible(det engine.DetectorResult) bool {
	return det.RegionCount > 0 && det.RegionCount < c.opts.MaxCrops
}

// runPhase2 runs the cascade while the phase deadline has time left. Each
// case waits at most for the budget remaining when it is submitted.
func (c *Coordinator) runPhase2(ctx context.Context, img image.Image, det engine.DetectorResult, budget time.Duration) CaseLog {
	deadline := common.NewDeadline(budget)
	log := CaseLog{Budget: engine.Seconds(budget)}

	cases := []int{1, 2, 3}
	if !c.guidedEligible(det) {
		log.Skipped = []int{1}
		cases = cases[1:]
	}

	var (
		champion    engine.EngineResult
		hasChampion bool
		fullTokens  []engine.Token
		fullCached  bool
	)

	for _, n := range cases {
		remaining := deadline.Remaining()
		if remaining <= 0 {
			break
		}
		stepStart := time.Now()

		var (
			res engine.EngineResult
			err error
		)
		if n == 1 {
			res, err = Submit(ctx, c.pool, func(ctx context.Context) (engine.EngineResult, error) {
				return c.guidedCrops(ctx, img, det)
			}).Await(remaining)
		} else {
			// Cases 2 and 3 differ only in the token threshold; a completed
			// full-image run is parsed again instead of recomputed.
			tokens := fullTokens
			if !fullCached {
				tokens, err = Submit(ctx, c.pool, func(ctx context.Context) ([]engine.Token, error) {
					return c.recognize(ctx, c.engines.Guided, EngineGuided, img)
				}).Await(remaining)
				if err == nil {
					fullTokens, fullCached = tokens, true
				}
			}
			if err == nil {
				res = scoring.ParseNeural(tokens, c.caseThreshold(n), c.engines.Corpus)
			}
		}

		step := newStep(n, res, err, time.Since(stepStart))
		log.Steps = append(log.Steps, step)
		slog.Debug("phase 2 case finished",
			"case", n,
			"status", step.Status,
			"confidence", step.Result.Confidence,
			"reliable", step.Result.Reliable,
			"runtime", step.Result.Runtime.Float())

		if step.Status == StatusTimeout || step.Status == StatusError {
			continue
		}
		if !hasChampion || step.Result.Confidence > champion.Confidence {
			champion, hasChampion = step.Result, true
			log.BestCase = n
		}
		if step.Result.HasText() && (step.Result.Reliable || step.Result.Confidence >= c.opts.EarlyExitConf) {
			log.Triggered = n
			log.Final = step.Result
			log.Runtime = engine.Seconds(min(deadline.Elapsed(), budget))
			return log
		}
	}

	switch {
	case hasChampion:
		log.Final = champion
		log.Triggered = log.BestCase
	case len(log.Steps) > 0:
		last := log.Steps[len(log.Steps)-1]
		log.Final = last.Result
		log.Triggered = last.Case
	default:
		log.Final = engine.Empty(EngineGuided)
	}
	log.Runtime = engine.Seconds(min(deadline.Elapsed(), budget))
	return log
}

func (c *Coordinator) caseThreshold(n int) float64 {
	if n == 3 {
		return c.opts.LooseTokenConf
	}
	return c.opts.MinTokenConf
}

// newStep classifies a case outcome. Timeouts and errors become empty
// placeholders carrying the error text.
func newStep(n int, res engine.EngineResult, err error, took time.Duration) Step {
	tag := caseEngine(n)
	step := Step{Case: n}
	switch {
	case engine.IsTimeout(err):
		res = engine.Empty(tag)
		res.TimedOut = true
		res.Error = err.Error()
		step.Status = StatusTimeout
	case err != nil:
		slog.Warn("phase 2 case failed", "case", n, "error", err)
		res = engine.Empty(tag)
		res.Error = err.Error()
		step.Status = StatusError
	case res.HasText():
		step.Status = StatusSuccess
	default:
		step.Status = StatusFail
	}
	res.Engine = tag
	res.Path = casePaths[n]
	res.Runtime = engine.Seconds(took)
	res.BackupTriggered = n == 3
	step.Result = res
	return step
}
