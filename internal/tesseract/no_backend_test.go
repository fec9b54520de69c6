//go:build !tesseract

package tesseract

import (
	"context"
	"image"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/stretchr/testify/require"
)

func TestNoBackend(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	_, err = e.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.ErrorIs(t, err, engine.ErrNoBackend)
	require.ErrorIs(t, err, engine.ErrEngineFailure)
}
