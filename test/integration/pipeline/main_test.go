package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/test/integration/pipeline/support"
	"github.com/cucumber/godog"
)

// InitializeScenario gives every scenario a fresh context and step set.
func InitializeScenario(sc *godog.ScenarioContext) {
	tc := support.NewTestContext()
	tc.RegisterPipelineSteps(sc)
	tc.RegisterRaceSteps(sc)

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.Cleanup()
		return ctx, err
	})
}

// TestFeatures runs every feature file under features/.
func TestFeatures(t *testing.T) {
	entries, err := os.ReadDir("features")
	if err != nil {
		t.Fatalf("failed to read features directory: %v", err)
	}

	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}
	tags := os.Getenv("GODOG_TAGS")

	found := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".feature") {
			continue
		}
		found = true
		featurePath := filepath.Join("features", e.Name())

		t.Run(e.Name(), func(t *testing.T) {
			suite := godog.TestSuite{
				ScenarioInitializer: InitializeScenario,
				Options: &godog.Options{
					Format:   format,
					Tags:     tags,
					Paths:    []string{featurePath},
					Strict:   true,
					TestingT: t,
				},
			}
			if suite.Run() != 0 {
				t.Fatalf("non-zero status returned for %s", featurePath)
			}
		})
	}

	if !found {
		t.Fatalf("no .feature files found in features/")
	}
}
