package support

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/cucumber/godog"
)

// RegisterPipelineSteps registers the engine setup and cascade steps.
func (tc *TestContext) RegisterPipelineSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a mode "([^"]*)" with a budget of "([^"]*)" and no pacing$`, tc.aModeWithBudget)
	sc.Step(`^the detector finds (\d+) regions?$`, tc.theDetectorFindsRegions)
	sc.Step(`^at most (\d+) crops are recognized$`, tc.atMostCropsAreRecognized)
	sc.Step(`^the (baseline|guided|secondary) engine reads "([^"]*)" with confidence ([\d.]+)$`, tc.theEngineReads)
	sc.Step(`^the (baseline|guided|secondary) engine reads the tokens "([^"]*)" with confidence ([\d.]+)$`, tc.theEngineReadsTokens)
	sc.Step(`^the (baseline|guided|secondary) engine reads the scored tokens "([^"]*)"$`, tc.theEngineReadsScoredTokens)
	sc.Step(`^the (baseline|guided|secondary) engine takes "([^"]*)"$`, tc.theEngineTakes)

	sc.Step(`^the image is processed in mode "([^"]*)"$`, tc.theImageIsProcessed)
	sc.Step(`^the triggered case is "([^"]*)"$`, tc.theTriggeredCaseIs)
	sc.Step(`^the final text is "([^"]*)"$`, tc.theFinalTextIs)
	sc.Step(`^the final text is empty$`, tc.theFinalTextIsEmpty)
	sc.Step(`^the final engine is "([^"]*)"$`, tc.theFinalEngineIs)
	sc.Step(`^the final result is reliable$`, tc.theFinalResultIsReliable)
	sc.Step(`^the final result is not reliable$`, tc.theFinalResultIsNotReliable)
	sc.Step(`^the final corpus score is at least ([\d.]+)$`, tc.theFinalCorpusScoreIsAtLeast)
	sc.Step(`^the (baseline|guided|secondary) engine was called (\d+) times?$`, tc.theEngineWasCalled)
	sc.Step(`^phase 2 ran (\d+) cases?$`, tc.phase2Ran)
	sc.Step(`^phase 2 skipped case (\d+)$`, tc.phase2Skipped)
	sc.Step(`^the best phase 2 candidate reads "([^"]*)"$`, tc.theBestCandidateReads)
	sc.Step(`^the best phase 2 case is (\d+)$`, tc.theBestCaseIs)
	sc.Step(`^the final confidence is ([\d.]+)$`, tc.theFinalConfidenceIs)
}

// RegisterRaceSteps registers the race steps.
func (tc *TestContext) RegisterRaceSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the engines race with a timeout of "([^"]*)"$`, tc.theEnginesRace)
	sc.Step(`^the race winner is "([^"]*)"$`, tc.theRaceWinnerIs)
	sc.Step(`^the race has no winner$`, tc.theRaceHasNoWinner)
	sc.Step(`^the race reported (\d+) engines?$`, tc.theRaceReported)
}

func (tc *TestContext) aModeWithBudget(name, budget string) error {
	d, err := time.ParseDuration(budget)
	if err != nil {
		return err
	}
	table, err := mode.NewTable(name, mode.Policy{Name: name, Budget: d})
	if err != nil {
		return err
	}
	tc.Modes = table
	return nil
}

func (tc *TestContext) theDetectorFindsRegions(n int) error {
	tc.Detector = testutil.NewFakeDetector(imageWidth, imageHeight, testutil.LineBoxes(n)...)
	return nil
}

func (tc *TestContext) atMostCropsAreRecognized(n int) error {
	tc.MaxCrops = n
	return nil
}

func (tc *TestContext) theEngineReads(name, text string, confidence float64) error {
	return tc.setEngine(name, testutil.NewFakeRecognizer(name, confidence, text))
}

func (tc *TestContext) theEngineReadsTokens(name, tokens string, confidence float64) error {
	var texts []string
	for _, tok := range strings.Split(tokens, ",") {
		texts = append(texts, strings.TrimSpace(tok))
	}
	return tc.setEngine(name, testutil.NewFakeRecognizer(name, confidence, texts...))
}

// theEngineReadsScoredTokens parses "word:confidence" pairs separated by
// commas.
func (tc *TestContext) theEngineReadsScoredTokens(name, spec string) error {
	r := &testutil.FakeRecognizer{EngineName: name}
	for pair := range strings.SplitSeq(spec, ",") {
		text, conf, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return fmt.Errorf("token %q is not word:confidence", pair)
		}
		c, err := strconv.ParseFloat(conf, 64)
		if err != nil {
			return fmt.Errorf("token %q: %w", pair, err)
		}
		r.Tokens = append(r.Tokens, engine.Token{Text: text, Confidence: c})
	}
	return tc.setEngine(name, r)
}

func (tc *TestContext) theEngineTakes(name, delay string) error {
	d, err := time.ParseDuration(delay)
	if err != nil {
		return err
	}
	r, err := tc.engine(name)
	if err != nil {
		return err
	}
	r.Delay = d
	return nil
}

func (tc *TestContext) setEngine(name string, r *testutil.FakeRecognizer) error {
	switch name {
	case pipeline.EngineBaseline:
		tc.Baseline = r
	case pipeline.EngineGuided:
		tc.Guided = r
	case pipeline.EngineSecondary:
		tc.Secondary = r
	default:
		return fmt.Errorf("unknown engine %q", name)
	}
	return nil
}

func (tc *TestContext) engine(name string) (*testutil.FakeRecognizer, error) {
	var r *testutil.FakeRecognizer
	switch name {
	case pipeline.EngineBaseline:
		r = tc.Baseline
	case pipeline.EngineGuided:
		r = tc.Guided
	case pipeline.EngineSecondary:
		r = tc.Secondary
	}
	if r == nil {
		return nil, fmt.Errorf("engine %q is not configured", name)
	}
	return r, nil
}

func (tc *TestContext) theImageIsProcessed(ctx context.Context, modeName string) error {
	res := tc.Coordinator().Run(ctx, tc.Image(), modeName)
	tc.LastResult = &res
	return nil
}

func (tc *TestContext) result() (*pipeline.Result, error) {
	if tc.LastResult == nil {
		return nil, errors.New("no image has been processed")
	}
	return tc.LastResult, nil
}

func (tc *TestContext) theTriggeredCaseIs(want string) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.CaseTriggered != want {
		return fmt.Errorf("expected case %q, got %q", want, res.CaseTriggered)
	}
	return nil
}

func (tc *TestContext) theFinalTextIs(want string) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.FinalResult.Text != want {
		return fmt.Errorf("expected final text %q, got %q", want, res.FinalResult.Text)
	}
	return nil
}

func (tc *TestContext) theFinalTextIsEmpty() error {
	return tc.theFinalTextIs("")
}

func (tc *TestContext) theFinalEngineIs(want string) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.FinalResult.Engine != want {
		return fmt.Errorf("expected final engine %q, got %q", want, res.FinalResult.Engine)
	}
	return nil
}

func (tc *TestContext) theFinalResultIsReliable() error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if !res.FinalResult.Reliable {
		return fmt.Errorf("expected a reliable result, got %+v", res.FinalResult)
	}
	return nil
}

func (tc *TestContext) theFinalResultIsNotReliable() error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.FinalResult.Reliable {
		return fmt.Errorf("expected an unreliable result, got %+v", res.FinalResult)
	}
	return nil
}

func (tc *TestContext) theFinalCorpusScoreIsAtLeast(least float64) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.FinalResult.CorpusScore < least {
		return fmt.Errorf("expected corpus score >= %.2f, got %.2f", least, res.FinalResult.CorpusScore)
	}
	return nil
}

func (tc *TestContext) theEngineWasCalled(name string, want int) error {
	r, err := tc.engine(name)
	if err != nil {
		return err
	}
	if got := r.Calls(); got != want {
		return fmt.Errorf("expected %s to be called %d times, got %d", name, want, got)
	}
	return nil
}

func (tc *TestContext) phase2Ran(want int) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.Phase2 == nil {
		return errors.New("phase 2 did not run")
	}
	if got := len(res.Phase2.Steps); got != want {
		return fmt.Errorf("expected %d phase 2 cases, got %d", want, got)
	}
	return nil
}

func (tc *TestContext) phase2Skipped(caseNumber int) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.Phase2 == nil || !slices.Contains(res.Phase2.Skipped, caseNumber) {
		return fmt.Errorf("expected case %d to be skipped", caseNumber)
	}
	return nil
}

func (tc *TestContext) theBestCandidateReads(want string) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.Phase2 == nil {
		return errors.New("phase 2 did not run")
	}
	if res.Phase2.Final.Text != want {
		return fmt.Errorf("expected best candidate %q, got %q", want, res.Phase2.Final.Text)
	}
	return nil
}

func (tc *TestContext) theBestCaseIs(want int) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if res.Phase2 == nil {
		return errors.New("phase 2 did not run")
	}
	if res.Phase2.BestCase != want {
		return fmt.Errorf("expected best case %d, got %d", want, res.Phase2.BestCase)
	}
	return nil
}

func (tc *TestContext) theFinalConfidenceIs(want float64) error {
	res, err := tc.result()
	if err != nil {
		return err
	}
	if math.Abs(res.FinalResult.Confidence-want) > 1e-9 {
		return fmt.Errorf("expected final confidence %.2f, got %.2f", want, res.FinalResult.Confidence)
	}
	return nil
}

func (tc *TestContext) theEnginesRace(ctx context.Context, timeout string) error {
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return err
	}
	res := tc.Coordinator().Race(ctx, tc.Image(), pipeline.RaceOptions{Timeout: d})
	tc.LastRace = &res
	return nil
}

func (tc *TestContext) theRaceWinnerIs(want string) error {
	if tc.LastRace == nil {
		return errors.New("no race has run")
	}
	if tc.LastRace.Winner == nil {
		return fmt.Errorf("expected winner %q, got none", want)
	}
	if *tc.LastRace.Winner != want {
		return fmt.Errorf("expected winner %q, got %q", want, *tc.LastRace.Winner)
	}
	return nil
}

func (tc *TestContext) theRaceHasNoWinner() error {
	if tc.LastRace == nil {
		return errors.New("no race has run")
	}
	if tc.LastRace.Winner != nil {
		return fmt.Errorf("expected no winner, got %q", *tc.LastRace.Winner)
	}
	return nil
}

func (tc *TestContext) theRaceReported(want int) error {
	if tc.LastRace == nil {
		return errors.New("no race has run")
	}
	if got := len(tc.LastRace.AllOutputs); got != want {
		return fmt.Errorf("expected %d engine outputs, got %d", want, got)
	}
	return nil
}
