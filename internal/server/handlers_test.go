package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		runner         Runner
		expectedStatus int
		ready          bool
	}{
		{"GET with runner", http.MethodGet, newFakeRunner(), http.StatusOK, true},
		{"GET without runner", http.MethodGet, nil, http.StatusOK, false},
		{"POST not allowed", http.MethodPost, nil, http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(tt.runner, Config{})
			w := httptest.NewRecorder()
			server.healthHandler(w, httptest.NewRequest(tt.method, "/health", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.Equal(t, tt.ready, response.Ready)
			assert.NotEmpty(t, response.Time)
			assert.Positive(t, response.Runtime.Goroutines)
			assert.Zero(t, response.ActiveStreams)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_ModesHandler(t *testing.T) {
	server := NewServer(nil, Config{})
	w := httptest.NewRecorder()
	server.modesHandler(w, httptest.NewRequest(http.MethodGet, "/modes", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response ModesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, mode.Steady, response.Default)
	require.Len(t, response.Modes, 3)

	byName := map[string]ModeInfo{}
	for _, m := range response.Modes {
		byName[m.Name] = m
	}
	require.NotNil(t, byName[mode.Fast].BudgetSeconds)
	assert.InDelta(t, 1.0, *byName[mode.Fast].BudgetSeconds, 1e-9)
	assert.Nil(t, byName[mode.Extended].BudgetSeconds)
	assert.InDelta(t, 10.0, byName[mode.Extended].MinIntervalSeconds, 1e-9)
	assert.True(t, byName[mode.Steady].Default)
	assert.False(t, byName[mode.Fast].Default)
}

func TestServer_OCRImageHandler(t *testing.T) {
	runner := newFakeRunner()
	server := NewServer(runner, Config{DefaultMode: mode.Fast})

	w := httptest.NewRecorder()
	server.ocrImageHandler(w, uploadRequest(t, "/ocr/image", pngBytes(t), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response OCRResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Success)
	require.NotNil(t, response.Result)
	assert.Equal(t, "hello world", response.Result.FinalResult.Text)
	assert.Equal(t, pipeline.CasePhase1, response.Result.CaseTriggered)
	assert.Equal(t, mode.Fast, runner.lastMode())
}

func TestServer_OCRImageHandler_ModeAndFormat(t *testing.T) {
	runner := newFakeRunner()
	server := NewServer(runner, Config{})

	w := httptest.NewRecorder()
	server.ocrImageHandler(w, uploadRequest(t, "/ocr/image?format=text", pngBytes(t), map[string]string{"mode": "Extended"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world\n", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "Extended", runner.lastMode())
}

func TestServer_OCRImageHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		runner Runner
		req    func(t *testing.T) *http.Request
		status int
		errMsg string
	}{
		{
			name:   "method not allowed",
			runner: newFakeRunner(),
			req:    func(*testing.T) *http.Request { return httptest.NewRequest(http.MethodGet, "/ocr/image", nil) },
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "no pipeline",
			runner: nil,
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/ocr/image", pngBytes(t), nil) },
			status: http.StatusServiceUnavailable,
			errMsg: "not initialized",
		},
		{
			name:   "no form",
			runner: newFakeRunner(),
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/ocr/image", strings.NewReader("plain"))
			},
			status: http.StatusBadRequest,
			errMsg: "Failed to parse form data",
		},
		{
			name:   "no file",
			runner: newFakeRunner(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/ocr/image", nil, map[string]string{"mode": "fast"}) },
			status: http.StatusBadRequest,
			errMsg: "No image file provided",
		},
		{
			name:   "invalid image",
			runner: newFakeRunner(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "/ocr/image", []byte("not an image"), nil) },
			status: http.StatusBadRequest,
			errMsg: "Invalid image format",
		},
		{
			name:   "unknown mode",
			runner: newFakeRunner(),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "/ocr/image", pngBytes(t), map[string]string{"mode": "turbo"})
			},
			status: http.StatusBadRequest,
			errMsg: "unknown mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(tt.runner, Config{})
			w := httptest.NewRecorder()
			server.ocrImageHandler(w, tt.req(t))
			assert.Equal(t, tt.status, w.Code)
			if tt.errMsg != "" {
				var response OCRResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.False(t, response.Success)
				assert.Contains(t, response.Error, tt.errMsg)
			}
		})
	}
}

func TestServer_OCRRaceHandler(t *testing.T) {
	runner := newFakeRunner()
	server := NewServer(runner, Config{Race: pipeline.RaceOptions{Timeout: 4 * time.Second}})

	w := httptest.NewRecorder()
	server.ocrRaceHandler(w, uploadRequest(t, "/ocr/race", pngBytes(t), map[string]string{"engine_timeout": "750ms"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response RaceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.NotNil(t, response.Result)
	require.NotNil(t, response.Result.Winner)
	assert.Equal(t, pipeline.EngineGuided, *response.Result.Winner)
	assert.Equal(t, "hello world", response.Result.FinalText)

	opts := runner.lastRaceOpts()
	assert.Equal(t, 4*time.Second, opts.Timeout)
	assert.Equal(t, 750*time.Millisecond, opts.EngineTimeout)
}

func TestServer_OCRRaceHandler_InvalidTimeout(t *testing.T) {
	server := NewServer(newFakeRunner(), Config{})
	w := httptest.NewRecorder()
	server.ocrRaceHandler(w, uploadRequest(t, "/ocr/race?timeout=soon", pngBytes(t), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid timeout")
}

func TestServer_Routes(t *testing.T) {
	ts := httptest.NewServer(NewServer(newFakeRunner(), Config{CORSOrigin: "https://example.com"}).Handler())
	defer ts.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, ts.URL+"/ocr/image", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	for _, path := range []string{"/health", "/modes", "/metrics"} {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
