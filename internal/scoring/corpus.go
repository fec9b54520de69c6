package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	// wordPattern matches whole Unicode word runs so that a word holding a
	// non-ASCII letter is never split into ASCII fragments.
	wordPattern  = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)
	asciiPattern = regexp.MustCompile(`^[a-z]+$`)
)

// Corpus scores text against a word-frequency table. The rank table is
// computed once at construction and is read-only afterwards; only the
// diagnostic set of unknown tokens is mutated.
type Corpus struct {
	ranks map[string]float64

	mu      sync.Mutex
	unknown map[string]struct{}
}

// NewCorpus builds a corpus from a word to frequency mapping.
// Keys are lower-cased; duplicate keys after lowering keep the last value seen
// in sorted key order.
func NewCorpus(freqs map[string]float64) *Corpus {
	keys := make([]string, 0, len(freqs))
	for w := range freqs {
		keys = append(keys, w)
	}
	sort.Strings(keys)

	lowered := make(map[string]float64, len(freqs))
	for _, w := range keys {
		lowered[strings.ToLower(w)] = freqs[w]
	}

	type entry struct {
		word string
		freq float64
	}
	entries := make([]entry, 0, len(lowered))
	for w, f := range lowered {
		entries = append(entries, entry{w, f})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].freq != entries[j].freq {
			return entries[i].freq > entries[j].freq
		}
		return entries[i].word < entries[j].word
	})

	n := float64(len(entries))
	ranks := make(map[string]float64, len(entries))
	for i, e := range entries {
		ranks[e.word] = engine.Round(1-float64(i)/n, 4)
	}
	return &Corpus{ranks: ranks, unknown: make(map[string]struct{})}
}

// LoadCorpus reads a JSON object of word frequencies. Non-numeric
// frequencies count as 0.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: corpus path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	freqs := make(map[string]float64, len(raw))
	for w, v := range raw {
		if f, ok := v.(float64); ok {
			freqs[w] = f
		} else {
			freqs[w] = 0
		}
	}
	return NewCorpus(freqs), nil
}

// Size returns the number of distinct words in the table.
func (c *Corpus) Size() int { return len(c.ranks) }

// Rank returns the percentile rank of a word and whether it is known.
func (c *Corpus) Rank(word string) (float64, bool) {
	r, ok := c.ranks[word]
	return r, ok
}

// Tokenize extracts lower-case ASCII alphabetic words after NFKC
// normalization. Words containing digits or non-ASCII letters are dropped
// whole.
func Tokenize(text string) []string {
	lowered := cases.Lower(language.Und).String(norm.NFKC.String(text))
	var words []string
	for _, w := range wordPattern.FindAllString(lowered, -1) {
		if asciiPattern.MatchString(w) {
			words = append(words, w)
		}
	}
	return words
}

// Score returns the mean rank of the tokens in text rounded to 2 decimals.
// Unknown tokens score 0 and are recorded. Text without tokens scores 0.
func (c *Corpus) Score(text string) float64 {
	if c == nil {
		return 0
	}
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, tok := range tokens {
		r, ok := c.ranks[tok]
		if !ok {
			c.recordUnknown(tok)
			continue
		}
		sum += r
	}
	return engine.Round(sum/float64(len(tokens)), 2)
}

func (c *Corpus) recordUnknown(tok string) {
	c.mu.Lock()
	c.unknown[tok] = struct{}{}
	c.mu.Unlock()
}

// UnknownTokens returns the tokens seen so far that are missing from the table.
func (c *Corpus) UnknownTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.unknown))
	for t := range c.unknown {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
