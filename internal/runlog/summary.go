package runlog

import (
	"maps"
	"slices"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// EngineSummary aggregates one engine's results across a log.
type EngineSummary struct {
	Engine         string         `json:"engine"`
	Runs           int            `json:"runs"`
	Reliable       int            `json:"reliable"`
	Errors         int            `json:"errors"`
	AvgConfidence  float64        `json:"avg_confidence"`
	AvgCorpusScore float64        `json:"avg_corpus_score"`
	AvgRuntime     engine.Seconds `json:"avg_runtime"`
	Wins           int            `json:"wins"`
}

// ReliableRate is the share of runs that were reliable.
func (s EngineSummary) ReliableRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Reliable) / float64(s.Runs)
}

type accumulator struct {
	EngineSummary

	conf, corpus float64
	runtime      time.Duration
}

func (a *accumulator) add(r engine.EngineResult) {
	a.Runs++
	if r.Reliable {
		a.Reliable++
	}
	if r.Error != "" {
		a.Errors++
	}
	a.conf += r.Confidence
	a.corpus += r.CorpusScore
	a.runtime += r.Runtime.Duration()
}

// Summarize aggregates per-engine statistics over every entry, including
// the pipeline's final result (as engine "pipeline") and race outputs.
// Summaries are sorted by engine name.
func Summarize(l Log) []EngineSummary {
	acc := map[string]*accumulator{}
	get := func(name string) *accumulator {
		a, ok := acc[name]
		if !ok {
			a = &accumulator{EngineSummary: EngineSummary{Engine: name}}
			acc[name] = a
		}
		return a
	}

	for _, files := range l {
		for _, e := range files {
			for name, r := range e.Engines {
				get(name).add(r)
			}
			if e.Pipeline != nil {
				final := e.Pipeline.FinalResult
				if final.Runtime == 0 {
					final.Runtime = e.Pipeline.TotalRuntime
				}
				if e.Pipeline.Error != "" {
					final.Error = e.Pipeline.Error
				}
				get(PipelineEngine).add(final)
			}
			if e.Race != nil {
				for name, r := range e.Race.AllOutputs {
					get(name).add(r)
				}
				if e.Race.Winner != nil {
					get(*e.Race.Winner).Wins++
				}
			}
		}
	}

	out := make([]EngineSummary, 0, len(acc))
	for _, name := range slices.Sorted(maps.Keys(acc)) {
		a := acc[name]
		s := a.EngineSummary
		if s.Runs > 0 {
			n := float64(s.Runs)
			s.AvgConfidence = engine.Round(a.conf/n, 3)
			s.AvgCorpusScore = engine.Round(a.corpus/n, 3)
			s.AvgRuntime = engine.Seconds(a.runtime / time.Duration(s.Runs))
		}
		out = append(out, s)
	}
	return out
}

// PipelineEngine is the summary name used for the coordinator's final result.
const PipelineEngine = "pipeline"
