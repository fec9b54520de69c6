package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/fatih/color"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
)

var (
	headerColor   = color.New(color.Bold)
	reliableColor = color.New(color.FgGreen)
	weakColor     = color.New(color.FgYellow)
	errorColor    = color.New(color.FgRed)
)

// fileResult is one processed input in JSON output.
type fileResult struct {
	File     string               `json:"file"`
	Pipeline *pipeline.Result     `json:"pipeline,omitempty"`
	Race     *pipeline.RaceResult `json:"race,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func validateFormat(format string) error {
	if format != outputFormatText && format != outputFormatJSON {
		return fmt.Errorf("invalid output format: %s (must be text or json)", format)
	}
	return nil
}

// openOutput returns stdout-like w, or a created file when path is set.
func openOutput(w io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resultColor(r engine.EngineResult) *color.Color {
	switch {
	case r.Error != "":
		return errorColor
	case r.Reliable:
		return reliableColor
	default:
		return weakColor
	}
}

// printPipelineResult writes a human readable rendering of one run.
func printPipelineResult(w io.Writer, file string, res pipeline.Result) {
	final := res.FinalResult
	_, _ = headerColor.Fprintf(w, "# %s\n", file)
	status := fmt.Sprintf("%s via %s conf=%.3f corpus=%.2f reliable=%t",
		res.CaseTriggered, orDash(final.Engine), final.Confidence, final.CorpusScore, final.Reliable)
	_, _ = fmt.Fprintf(w, "%s  mode=%s runtime=%.3fs\n", resultColor(final).Sprint(status), res.Mode, res.TotalRuntime.Float())
	if res.Error != "" {
		_, _ = errorColor.Fprintf(w, "! %s\n", res.Error)
	}
	_, _ = fmt.Fprintln(w, final.Text)
}

// printRaceResult writes the winner and every engine's output.
func printRaceResult(w io.Writer, file string, res pipeline.RaceResult) {
	_, _ = headerColor.Fprintf(w, "# %s\n", file)
	if res.Winner == nil {
		_, _ = weakColor.Fprintf(w, "no reliable engine after %.3fs\n", res.Runtime.Float())
	} else {
		after := res.Runtime
		if res.WinnerRuntime != nil {
			after = *res.WinnerRuntime
		}
		_, _ = reliableColor.Fprintf(w, "winner %s after %.3fs conf=%.3f corpus=%.2f\n",
			*res.Winner, after.Float(), res.Confidence, res.CorpusScore)
		_, _ = fmt.Fprintln(w, res.FinalText)
	}
	names := make([]string, 0, len(res.AllOutputs))
	for name := range res.AllOutputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		out := res.AllOutputs[name]
		line := fmt.Sprintf("  %-10s conf=%.3f reliable=%-5t runtime=%.3fs", name, out.Confidence, out.Reliable, out.Runtime.Float())
		switch {
		case out.Aborted:
			line += " aborted"
		case out.TimedOut:
			line += " timed out"
		case out.Error != "":
			line += " error: " + out.Error
		}
		_, _ = fmt.Fprintln(w, resultColor(out).Sprint(line))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
