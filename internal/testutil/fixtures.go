package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/scoring"
	"github.com/stretchr/testify/require"
)

// CorpusFrequencies is a small word-frequency table. Ranked by frequency,
// "the" scores 1.0 and "lazy" 0.1.
func CorpusFrequencies() map[string]float64 {
	return map[string]float64{
		"the":   100,
		"quick": 90,
		"brown": 80,
		"fox":   70,
		"jumps": 60,
		"over":  50,
		"hello": 40,
		"world": 30,
		"dog":   20,
		"lazy":  10,
	}
}

// Corpus returns a scorer over CorpusFrequencies.
func Corpus() *scoring.Corpus {
	return scoring.NewCorpus(CorpusFrequencies())
}

// CorpusJSON encodes CorpusFrequencies in the corpus file format.
func CorpusJSON() ([]byte, error) {
	return json.MarshalIndent(CorpusFrequencies(), "", "  ")
}

// WriteCorpus writes CorpusFrequencies as JSON into dir and returns the path.
func WriteCorpus(t *testing.T, dir string) string {
	t.Helper()

	data, err := CorpusJSON()
	require.NoError(t, err)
	path := filepath.Join(dir, "corpus.json")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
