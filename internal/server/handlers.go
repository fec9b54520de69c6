package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/MeKo-Tech/ocrcascade/internal/utils"
	"github.com/MeKo-Tech/ocrcascade/internal/version"
)

const formatText = "text"

// httpError carries the status an upload failure should be answered with.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := version.Get()
	response := HealthResponse{
		Status:        "healthy",
		Version:       info.Version,
		Commit:        info.GitCommit,
		Time:          time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: time.Since(s.started).Seconds(),
		Ready:         s.runner != nil,
		ActiveStreams: int(s.streams.Load()),
		Runtime:       runtimeSnapshot(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func runtimeSnapshot() Runtime {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Runtime{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(m.HeapAlloc) / (1 << 20),
		NumGC:       m.NumGC,
	}
}

func (s *Server) modesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	policies := s.modes.Policies()
	infos := make([]ModeInfo, 0, len(policies))
	for _, p := range policies {
		infos = append(infos, modeInfo(p, p.Name == s.defaultMode))
	}
	s.writeJSON(w, http.StatusOK, ModesResponse{Modes: infos, Default: s.defaultMode})
}

func modeInfo(p mode.Policy, isDefault bool) ModeInfo {
	info := ModeInfo{Name: p.Name, MinIntervalSeconds: p.MinInterval.Seconds(), Default: isDefault}
	if p.Bounded() {
		budget := p.Budget.Seconds()
		info.BudgetSeconds = &budget
	}
	return info
}

// ocrImageHandler runs the two-phase pipeline on an uploaded image. The
// optional "mode" parameter selects the execution mode and "format=text"
// returns only the final text.
func (s *Server) ocrImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		s.writeErrorResponse(w, "OCR pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	img, err := s.readUploadedImage(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	modeName := requestParam(r, "mode")
	if modeName == "" {
		modeName = s.defaultMode
	} else if !s.modes.Known(modeName) {
		s.writeErrorResponse(w, fmt.Sprintf("unknown mode %q", modeName), http.StatusBadRequest)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	res := s.runner.Run(ctx, img, modeName)
	recordPipelineResult("image", res, time.Since(start))
	slog.Info("image request processed", "mode", res.Mode, "case", res.CaseTriggered,
		"confidence", res.FinalResult.Confidence, "runtime", res.TotalRuntime)

	if requestParam(r, "format") == formatText {
		s.writeText(w, res.FinalResult.Text)
		return
	}
	s.writeJSON(w, http.StatusOK, OCRResponse{
		Success: res.CaseTriggered != pipeline.CaseException,
		Result:  &res,
		Error:   res.Error,
	})
}

// ocrRaceHandler races the engines on an uploaded image. The optional
// "timeout" and "engine_timeout" parameters are Go durations.
func (s *Server) ocrRaceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		s.writeErrorResponse(w, "OCR pipeline not initialized", http.StatusServiceUnavailable)
		return
	}

	img, err := s.readUploadedImage(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	opts := s.race
	for param, dst := range map[string]*time.Duration{"timeout": &opts.Timeout, "engine_timeout": &opts.EngineTimeout} {
		v := requestParam(r, param)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.writeErrorResponse(w, fmt.Sprintf("invalid %s %q", param, v), http.StatusBadRequest)
			return
		}
		*dst = d
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	start := time.Now()
	res := s.runner.Race(ctx, img, opts)
	recordRaceResult(res, time.Since(start))

	if requestParam(r, "format") == formatText {
		s.writeText(w, res.FinalText)
		return
	}
	s.writeJSON(w, http.StatusOK, RaceResponse{Success: true, Result: &res})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

// readUploadedImage decodes the "image" form file, downscaling it to the
// default constraints when it is larger.
func (s *Server) readUploadedImage(w http.ResponseWriter, r *http.Request) (image.Image, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &httpError{http.StatusRequestEntityTooLarge, "File too large"}
		}
		return nil, &httpError{http.StatusBadRequest, "Failed to parse form data"}
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, &httpError{http.StatusBadRequest, "No image file provided"}
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	img, meta, err := utils.DecodeImage(file)
	if err != nil {
		return nil, &httpError{http.StatusBadRequest, "Invalid image format"}
	}
	slog.Debug("image uploaded", "filename", header.Filename, "format", meta.Format,
		"width", meta.Width, "height", meta.Height)
	return utils.FitWithin(img, utils.DefaultImageConstraints()), nil
}

func requestParam(r *http.Request, key string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var he *httpError
	if errors.As(err, &he) {
		s.writeErrorResponse(w, he.message, he.status)
		return
	}
	s.writeErrorResponse(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, OCRResponse{Success: false, Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text + "\n"))
}
