package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// Config configures the baseline engine.
type Config struct {
	Name        string            // engine name reported in results
	Languages   []string          // tesseract language codes
	PageSegMode int               // tesseract page segmentation mode
	Variables   map[string]string // extra tesseract variables
}

// DefaultConfig returns English, single uniform block of text.
func DefaultConfig() Config {
	return Config{Name: "baseline", Languages: []string{"eng"}, PageSegMode: 6}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Languages) == 0 {
		return errors.New("at least one language is required")
	}
	if c.PageSegMode < 0 || c.PageSegMode > 13 {
		return fmt.Errorf("page segmentation mode must be in [0,13], got %d", c.PageSegMode)
	}
	return nil
}

// word is one recognized word with tesseract's 0-100 confidence.
type word struct {
	Text       string
	Confidence float64
}

// backend runs tesseract on an encoded image.
type backend interface {
	words(ctx context.Context, data []byte, cfg Config) ([]word, error)
}

// Engine is the baseline recognizer.
type Engine struct {
	config  Config
	backend backend
}

// New creates a baseline engine with the linked backend.
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "baseline"
	}
	return &Engine{config: config, backend: newBackend()}, nil
}

// Name identifies the engine in results and logs.
func (e *Engine) Name() string { return e.config.Name }

// Recognize returns one token per recognized word.
func (e *Engine) Recognize(ctx context.Context, img image.Image) ([]engine.Token, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	words, err := e.backend.words(ctx, buf.Bytes(), e.config)
	if err != nil {
		return nil, engine.Failure(e.Name(), "recognize", err)
	}
	return toTokens(words), nil
}

// toTokens drops empty words and tesseract's -1 "no confidence" markers and
// rescales confidences to [0,1].
func toTokens(words []word) []engine.Token {
	tokens := make([]engine.Token, 0, len(words))
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" || w.Confidence < 0 {
			continue
		}
		tokens = append(tokens, engine.Token{Text: text, Confidence: w.Confidence / 100})
	}
	return tokens
}
