package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestGetModelsDir(t *testing.T) {
	assert.Equal(t, "/explicit", GetModelsDir("/explicit"))

	t.Setenv(EnvModelsDir, "/from/env")
	assert.Equal(t, "/from/env", GetModelsDir(""))

	t.Setenv(EnvModelsDir, "")
	dir := GetModelsDir("")
	assert.Equal(t, DefaultModelsDir, filepath.Base(dir))
}

func TestResolveModelPath_FlatFallback(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, DetectionEAST), GetDetectionModelPath(dir))
	assert.Equal(t, filepath.Join(dir, RecognitionMobile), GetRecognitionModelPath(dir, false))
	assert.Equal(t, filepath.Join(dir, CorpusWordFrequencies), GetCorpusPath(dir))
}

func TestResolveModelPath_Organized(t *testing.T) {
	dir := t.TempDir()
	det := filepath.Join(dir, TypeDetection, DetectionEAST)
	rec := filepath.Join(dir, TypeRecognition, VariantServer, RecognitionServer)
	dict := filepath.Join(dir, TypeDictionaries, DictionaryPPOCRKeysV1)
	corpus := filepath.Join(dir, TypeCorpus, CorpusWordFrequencies)
	for _, p := range []string{det, rec, dict, corpus} {
		touch(t, p)
	}

	assert.Equal(t, det, GetDetectionModelPath(dir))
	assert.Equal(t, rec, GetRecognitionModelPath(dir, true))
	assert.Equal(t, dict, GetDictionaryPath(dir, ""))
	assert.Equal(t, corpus, GetCorpusPath(dir))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.onnx")
	assert.ErrorContains(t, ValidateModelExists(path), "model file not found")
	touch(t, path)
	assert.NoError(t, ValidateModelExists(path))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.Len(t, list, 5)
	seen := map[string]bool{}
	for _, m := range list {
		assert.NotEmpty(t, m.Filename)
		assert.NotEmpty(t, m.Type)
		assert.False(t, seen[m.Name], "duplicate %s", m.Name)
		seen[m.Name] = true
	}
}

func TestFindProjectRoot(t *testing.T) {
	root, err := findProjectRoot()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "go.mod"))
}
