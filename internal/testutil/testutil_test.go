package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
	assert.Equal(t, filepath.Join(root, "testdata"), GetTestDataDir(t))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}

func TestWriteCorpus(t *testing.T) {
	path := WriteCorpus(t, t.TempDir())
	assert.True(t, FileExists(path))
	assert.Equal(t, 10, Corpus().Size())
}
