package scoring

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCorpus() *Corpus {
	return NewCorpus(map[string]float64{
		"the":   100,
		"quick": 50,
		"brown": 40,
		"fox":   30,
		"jumps": 20,
		"over":  10,
		"lazy":  5,
		"Dog":   1,
		"zebra": 0,
		"alpha": 0,
	})
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"nil", nil, 0},
		{"float", 0.75, 0.75},
		{"float32", float32(0.5), 0.5},
		{"int", 1, 1},
		{"negative", -3.0, 0},
		{"above one", 1.7, 1},
		{"numeric string", " 0.42 ", 0.42},
		{"garbage string", "high", 0},
		{"nan", math.NaN(), 0},
		{"inf", math.Inf(1), 0},
		{"bool", true, 0},
		{"slice", []int{1}, 0},
		{"uint8", uint8(1), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizeConfidence(tt.in), 1e-9)
		})
	}
}

func TestCorpus_Ranks(t *testing.T) {
	c := testCorpus()
	assert.Equal(t, 10, c.Size())

	r, ok := c.Rank("the")
	require.True(t, ok)
	assert.Equal(t, 1.0, r)

	r, ok = c.Rank("quick")
	require.True(t, ok)
	assert.Equal(t, 0.9, r)

	// Keys are lower-cased.
	_, ok = c.Rank("dog")
	assert.True(t, ok)

	// Equal frequencies are ordered by word: alpha before zebra.
	ra, _ := c.Rank("alpha")
	rz, _ := c.Rank("zebra")
	assert.Greater(t, ra, rz)
}

func TestCorpus_Score(t *testing.T) {
	c := testCorpus()

	assert.Equal(t, 0.0, c.Score(""))
	assert.Equal(t, 0.0, c.Score("123 456 !!"))
	assert.Equal(t, 0.0, c.Score("qwxz plmk"))
	assert.Equal(t, []string{"plmk", "qwxz"}, c.UnknownTokens())

	// (1.0 + 0.9) / 2
	assert.Equal(t, 0.95, c.Score("The QUICK"))
	// (1.0 + 0) / 2
	assert.Equal(t, 0.5, c.Score("the unknownword"))
}

func TestCorpus_NilScoresZero(t *testing.T) {
	var c *Corpus
	assert.Equal(t, 0.0, c.Score("the quick"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, Tokenize("Hello, WORLD!"))
	// Fullwidth letters are folded by NFKC.
	assert.Equal(t, []string{"abc"}, Tokenize("ＡＢＣ"))
	assert.Empty(t, Tokenize("abc123"))
	// Accented words are dropped whole, never split into fragments.
	assert.Equal(t, []string{"the", "menu"}, Tokenize("the café menu"))
	assert.Empty(t, Tokenize("naïve Straße"))
}

func TestScore_AccentedWordDoesNotDilute(t *testing.T) {
	c := NewCorpus(map[string]float64{"the": 10, "menu": 5, "cat": 1})
	assert.Equal(t, c.Score("the menu"), c.Score("the café menu"))
	assert.NotContains(t, c.UnknownTokens(), "caf")
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"the": 10, "cat": 5, "odd": "x"}`), 0o600))

	c, err := LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Size())
	r, _ := c.Rank("odd")
	assert.InDelta(t, 0.3333, r, 1e-4)

	_, err = LoadCorpus(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = LoadCorpus(path)
	require.Error(t, err)
}

func TestPassesGibberishFilter(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"ab", false},
		{"hello world", true},
		{"12345 ab", false},
		{"abc==def", false},
		{"HeLlo", false},
		{"Hello World", true},
		{"a1b", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, PassesGibberishFilter(tt.text))
		})
	}
}

func TestVerdict(t *testing.T) {
	assert.True(t, Verdict{Confidence: 0.6, CorpusScore: 0.5}.Reliable())
	assert.False(t, Verdict{Confidence: 0.59, CorpusScore: 0.9}.Reliable())
	assert.False(t, Verdict{Confidence: 0.9, CorpusScore: 0.49}.Reliable())
	assert.False(t, Verdict{ApplyFilter: true, Text: "==x", Confidence: 0.9, CorpusScore: 0.9}.Reliable())
	assert.True(t, Verdict{ApplyFilter: true, Text: "the fox", Confidence: 0.9, CorpusScore: 0.9}.Reliable())
	assert.True(t, RegionReliable(0.6))
	assert.False(t, RegionReliable(0.59))
}

func TestParseBaseline(t *testing.T) {
	c := testCorpus()
	res := ParseBaseline([]engine.Token{
		{Text: "the", Confidence: 0.9},
		{Text: "  ", Confidence: 0.1},
		{Text: "quick", Confidence: 0.7},
	}, c)
	assert.Equal(t, "the quick", res.Text)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, 0.95, res.CorpusScore)
	assert.True(t, res.Reliable)

	gib := ParseBaseline([]engine.Token{{Text: "ThEqUiCk", Confidence: 0.95}}, c)
	assert.False(t, gib.Reliable)

	empty := ParseBaseline(nil, c)
	assert.Equal(t, "", empty.Text)
	assert.Equal(t, 0.0, empty.Confidence)
	assert.False(t, empty.Reliable)
}

func TestParseNeural_DropsLowTokens(t *testing.T) {
	c := testCorpus()
	tokens := []engine.Token{
		{Text: "the", Confidence: 0.9},
		{Text: "xq", Confidence: 0.35},
		{Text: "fox", Confidence: 0.7},
	}

	strict := ParseNeural(tokens, DefaultMinToken, c)
	assert.Equal(t, "the fox", strict.Text)
	assert.Equal(t, 0.8, strict.Confidence)

	loose := ParseNeural(tokens, LooseMinToken, c)
	assert.Equal(t, "the xq fox", loose.Text)
	assert.Equal(t, 0.65, loose.Confidence)
}

func TestParseNeural_NoFilter(t *testing.T) {
	c := testCorpus()
	// Alternating case would fail the baseline filter but neural results skip it.
	res := ParseNeural([]engine.Token{{Text: "ThE", Confidence: 0.9}, {Text: "QuIck", Confidence: 0.9}}, 0.6, c)
	assert.True(t, res.Reliable)
}

func TestAggregateCrops(t *testing.T) {
	c := testCorpus()
	crops := []engine.EngineResult{
		{Text: "the", Confidence: 0.9},
		{Text: "junk", Confidence: 0.2},
		{Text: "", Confidence: 0.9},
		{Text: "fox", Confidence: 0.5},
	}
	res := AggregateCrops(crops, DefaultCropConf, c)
	assert.Equal(t, "the fox", res.Text)
	assert.Equal(t, 0.7, res.Confidence)
	assert.True(t, res.Reliable)

	none := AggregateCrops([]engine.EngineResult{{Text: "x", Confidence: 0.1}}, DefaultCropConf, c)
	assert.Equal(t, engine.EngineResult{}, none)
}
