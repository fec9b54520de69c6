//go:build !tesseract

package tesseract

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

func newBackend() backend { return noBackend{} }

type noBackend struct{}

func (noBackend) words(context.Context, []byte, Config) ([]word, error) {
	return nil, fmt.Errorf("%w: build with -tags=tesseract", engine.ErrNoBackend)
}
