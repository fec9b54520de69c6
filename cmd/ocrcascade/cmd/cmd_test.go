package cmd

import (
	"bytes"
	"context"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/config"
	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
)

const fakeText = "hello world"

// fakeRunner answers every run with the same reliable text.
type fakeRunner struct {
	mu    sync.Mutex
	modes []string
	races int
}

func (f *fakeRunner) Run(_ context.Context, _ image.Image, modeName string) pipeline.Result {
	f.mu.Lock()
	f.modes = append(f.modes, modeName)
	f.mu.Unlock()
	return pipeline.Result{
		Mode:          modeName,
		CaseTriggered: pipeline.CasePhase1,
		FinalResult: engine.EngineResult{
			Text: fakeText, Confidence: 0.92, CorpusScore: 1, Reliable: true, Engine: pipeline.EngineGuided,
		},
	}
}

func (f *fakeRunner) Race(_ context.Context, _ image.Image, _ pipeline.RaceOptions) pipeline.RaceResult {
	f.mu.Lock()
	f.races++
	f.mu.Unlock()
	winner := pipeline.EngineGuided
	out := engine.EngineResult{Text: fakeText, Confidence: 0.92, CorpusScore: 1, Reliable: true, Engine: winner}
	return pipeline.RaceResult{
		Winner:     &winner,
		FinalText:  fakeText,
		Confidence: out.Confidence,
		Reliable:   true,
		AllOutputs: map[string]engine.EngineResult{
			winner:                  out,
			pipeline.EngineBaseline: {Engine: pipeline.EngineBaseline, Skipped: true, Aborted: true},
		},
	}
}

func (f *fakeRunner) ranModes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.modes...)
}

// useFakeRunner replaces the engine loader for the duration of the test.
func useFakeRunner(t *testing.T) *fakeRunner {
	t.Helper()
	fake := &fakeRunner{}
	prev := newRunner
	newRunner = func(*config.Config) (Runner, func(), error) { return fake, func() {}, nil }
	t.Cleanup(func() { newRunner = prev })
	return fake
}

// executeCommand runs the root command in an empty working directory and
// returns stdout. Logs are kept out of the returned output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		globalConfig = nil
	})

	err := rootCmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

// writeImages saves small text images and returns their paths.
func writeImages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		testutil.SaveImage(t, testutil.TextImage(fakeText), path)
		paths = append(paths, path)
	}
	return paths
}
