package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/runlog"
	"github.com/fatih/color"
)

// FormatResults renders the batch results in the given format.
func (r *Result) FormatResults(format string) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(r)
	case FormatCSV:
		return formatCSV(r)
	default:
		return formatText(r), nil
	}
}

func formatJSON(r *Result) (string, error) {
	bts, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}
	return string(bts), nil
}

// formatCSV writes one row per image with the accepted answer.
func formatCSV(r *Result) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	header := []string{"file", "category", "text", "confidence", "corpus_score", "reliable", "source", "runtime", "error"}
	if err := writer.Write(header); err != nil {
		return "", err
	}
	for _, item := range r.Items {
		if err := writer.Write(csvRow(item)); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

func csvRow(item Item) []string {
	row := []string{item.Path, item.Category, "", "0", "0", "false", "", "0", item.Entry.Error}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	switch {
	case item.Entry.Race != nil:
		race := item.Entry.Race
		row[2] = race.FinalText
		row[3] = f(race.Confidence)
		row[4] = f(race.CorpusScore)
		row[5] = strconv.FormatBool(race.Reliable)
		if race.Winner != nil {
			row[6] = *race.Winner
		}
		row[7] = f(race.Runtime.Float())
	case item.Entry.Pipeline != nil:
		res := item.Entry.Pipeline
		row[2] = res.FinalResult.Text
		row[3] = f(res.FinalResult.Confidence)
		row[4] = f(res.FinalResult.CorpusScore)
		row[5] = strconv.FormatBool(res.FinalResult.Reliable)
		row[6] = res.CaseTriggered
		row[7] = f(res.TotalRuntime.Float())
	}
	return row
}

func formatText(r *Result) string {
	var output strings.Builder
	for i, item := range r.Items {
		if i > 0 {
			output.WriteString("\n")
		}
		fmt.Fprintf(&output, "# %s\n", item.Path)
		if item.Entry.Error != "" && item.Text() == "" {
			fmt.Fprintf(&output, "! %s\n", item.Entry.Error)
			continue
		}
		if text := item.Text(); text != "" {
			output.WriteString(text)
			output.WriteString("\n")
		}
	}
	return output.String()
}

// PrintSummary writes a per-engine table for the run. Reliable rates are
// colored green above one half and red otherwise.
func (r *Result) PrintSummary(w io.Writer) {
	header := color.New(color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	_, _ = header.Fprintf(w, "\nProcessed %d images in %v (%d failed)\n",
		len(r.Items), r.Duration.Round(time.Millisecond), r.Failed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENGINE\tRUNS\tRELIABLE\tWINS\tERRORS\tAVG CONF\tAVG CORPUS\tAVG RUNTIME")
	for _, s := range r.Summaries() {
		rate := fmt.Sprintf("%d (%.0f%%)", s.Reliable, s.ReliableRate()*100)
		if s.ReliableRate() > 0.5 {
			rate = good.Sprint(rate)
		} else {
			rate = bad.Sprint(rate)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%.3f\t%.3f\t%.3fs\n",
			s.Engine, s.Runs, rate, s.Wins, s.Errors, s.AvgConfidence, s.AvgCorpusScore, s.AvgRuntime.Float())
	}
	_ = tw.Flush()

	for _, path := range r.LogFiles {
		_, _ = fmt.Fprintf(w, "Log written to %s\n", path)
	}
}

// summaryLine is used in quiet mode.
func summaryLine(s runlog.EngineSummary) string {
	return fmt.Sprintf("%s runs=%d reliable=%d avg_conf=%.3f", s.Engine, s.Runs, s.Reliable, s.AvgConfidence)
}

// PrintCompact writes one line per engine.
func (r *Result) PrintCompact(w io.Writer) {
	for _, s := range r.Summaries() {
		_, _ = fmt.Fprintln(w, summaryLine(s))
	}
}
