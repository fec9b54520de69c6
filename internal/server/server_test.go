package server

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/testutil"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers every run with fixed text and records what it was asked.
type fakeRunner struct {
	mu       sync.Mutex
	modes    []string
	raceOpts []pipeline.RaceOptions
	text     string
}

func newFakeRunner() *fakeRunner { return &fakeRunner{text: "hello world"} }

func (f *fakeRunner) Run(_ context.Context, _ image.Image, modeName string) pipeline.Result {
	f.mu.Lock()
	f.modes = append(f.modes, modeName)
	f.mu.Unlock()
	return pipeline.Result{
		Mode:          modeName,
		CaseTriggered: pipeline.CasePhase1,
		FinalResult:   engine.EngineResult{Text: f.text, Confidence: 0.9, Reliable: true, Engine: pipeline.EngineBaseline},
	}
}

func (f *fakeRunner) Race(_ context.Context, _ image.Image, opts pipeline.RaceOptions) pipeline.RaceResult {
	f.mu.Lock()
	f.raceOpts = append(f.raceOpts, opts)
	f.mu.Unlock()
	winner := pipeline.EngineGuided
	return pipeline.RaceResult{
		Winner:     &winner,
		FinalText:  f.text,
		Confidence: 0.85,
		Reliable:   true,
		AllOutputs: map[string]engine.EngineResult{winner: {Text: f.text, Confidence: 0.85, Reliable: true}},
	}
}

func (f *fakeRunner) lastMode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.modes) == 0 {
		return ""
	}
	return f.modes[len(f.modes)-1]
}

func (f *fakeRunner) lastRaceOpts() pipeline.RaceOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raceOpts[len(f.raceOpts)-1]
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.BlankImage(64, 32, color.White)))
	return buf.Bytes()
}

// uploadRequest builds a multipart POST with the image under field "image"
// plus any extra form fields.
func uploadRequest(t *testing.T, target string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		part, err := mw.CreateFormFile("image", "frame.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
