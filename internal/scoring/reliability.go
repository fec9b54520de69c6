package scoring

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// Reliability thresholds.
const (
	MinConfidence   = 0.6
	MinCorpusScore  = 0.5
	MinRegionConf   = 0.6
	DefaultMinToken = 0.6
	LooseMinToken   = 0.3
	DefaultCropConf = 0.4
)

var alternatingCase = regexp.MustCompile(`[A-Z][a-z][A-Z][a-z]`)

// PassesGibberishFilter reports whether text looks like real words rather than
// cipher-like junk.
func PassesGibberishFilter(text string) bool {
	n := utf8.RuneCountInString(text)
	if n < 3 {
		return false
	}
	alpha := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if float64(alpha)/float64(n) < 0.5 {
		return false
	}
	if strings.Contains(text, "==") {
		return false
	}
	return !alternatingCase.MatchString(text)
}

// Verdict holds the inputs of the composite reliability decision.
type Verdict struct {
	// ApplyFilter enables the gibberish filter; only the baseline engine uses it.
	ApplyFilter bool
	Text        string
	Confidence  float64
	CorpusScore float64
}

// Reliable reports whether every condition holds.
func (v Verdict) Reliable() bool {
	if v.ApplyFilter && !PassesGibberishFilter(v.Text) {
		return false
	}
	return v.Confidence >= MinConfidence && v.CorpusScore >= MinCorpusScore
}

// RegionReliable applies the detector's own per-region threshold.
func RegionReliable(confidence float64) bool { return confidence >= MinRegionConf }

// ParseBaseline scores baseline tokens. Empty tokens are dropped and the
// gibberish filter participates in the verdict.
func ParseBaseline(tokens []engine.Token, corpus *Corpus) engine.EngineResult {
	return parse(tokens, 0, corpus, true)
}

// ParseNeural scores neural recognizer tokens, dropping tokens whose
// confidence is below minTokenConf.
func ParseNeural(tokens []engine.Token, minTokenConf float64, corpus *Corpus) engine.EngineResult {
	return parse(tokens, minTokenConf, corpus, false)
}

func parse(tokens []engine.Token, minTokenConf float64, corpus *Corpus, filter bool) engine.EngineResult {
	parts := make([]string, 0, len(tokens))
	var sum float64
	for _, tok := range tokens {
		text := strings.TrimSpace(tok.Text)
		if text == "" {
			continue
		}
		conf := NormalizeConfidence(tok.Confidence)
		if conf < minTokenConf {
			continue
		}
		parts = append(parts, text)
		sum += conf
	}

	var avg float64
	if len(parts) > 0 {
		avg = sum / float64(len(parts))
	}
	return score(strings.Join(parts, " "), avg, corpus, filter)
}

func score(text string, confidence float64, corpus *Corpus, filter bool) engine.EngineResult {
	text = strings.TrimSpace(text)
	corpusScore := corpus.Score(text)
	v := Verdict{ApplyFilter: filter, Text: text, Confidence: confidence, CorpusScore: corpusScore}
	return engine.EngineResult{
		Text:        text,
		Confidence:  engine.Round(confidence, 2),
		CorpusScore: corpusScore,
		Reliable:    v.Reliable(),
	}
}

// AggregateCrops merges per-crop results in crop order. Crops without text or
// below minCropConf are discarded; corpus score and reliability are recomputed
// over the merged text.
func AggregateCrops(results []engine.EngineResult, minCropConf float64, corpus *Corpus) engine.EngineResult {
	parts := make([]string, 0, len(results))
	var sum float64
	for _, r := range results {
		if !r.HasText() || r.Confidence < minCropConf {
			continue
		}
		parts = append(parts, r.Text)
		sum += r.Confidence
	}
	if len(parts) == 0 {
		return engine.EngineResult{}
	}
	return score(strings.Join(parts, " "), sum/float64(len(parts)), corpus, false)
}
