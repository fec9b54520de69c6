//go:build tesseract

package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// newBackend returns the gosseract-backed implementation when the build tag is enabled.
func newBackend() backend { return &gosseractBackend{} }

// gosseractBackend creates a client per call; gosseract clients are not
// safe for concurrent use.
type gosseractBackend struct{}

func (b *gosseractBackend) words(ctx context.Context, data []byte, cfg Config) ([]word, error) {
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(cfg.Languages...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	for k, v := range cfg.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("recognize words: %w", err)
	}
	words := make([]word, 0, len(boxes))
	for _, box := range boxes {
		words = append(words, word{Text: box.Word, Confidence: box.Confidence})
	}
	return words, nil
}
