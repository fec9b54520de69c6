package server

import (
	"context"
	"image"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/mode"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runner runs the two-phase pipeline and the engine race on one image.
type Runner interface {
	Run(ctx context.Context, img image.Image, mode string) pipeline.Result
	Race(ctx context.Context, img image.Image, opts pipeline.RaceOptions) pipeline.RaceResult
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	runner      Runner
	modes       *mode.Table
	defaultMode string
	race        pipeline.RaceOptions
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	rateLimiter *RateLimiter
	started     time.Time
	streams     atomic.Int32
}

// Config holds server configuration.
type Config struct {
	Host              string
	Port              int
	CORSOrigin        string
	MaxUploadMB       int64
	Timeout           time.Duration // per request; 0 disables
	DefaultMode       string
	Modes             *mode.Table // nil = built-in modes
	Race              pipeline.RaceOptions
	RequestsPerMinute int   // per client; 0 disables
	MaxDataPerDayMB   int64 // per client; 0 disables
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version,omitempty"`
	Commit        string   `json:"commit,omitempty"`
	Time          string   `json:"time"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	Ready         bool     `json:"ready"`
	ActiveStreams int      `json:"active_streams"`
	Runtime       Runtime  `json:"runtime"`
}

// Runtime is a snapshot of the Go runtime taken for /health.
type Runtime struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
}

// ModeInfo describes one execution mode. BudgetSeconds is null for
// unbounded modes.
type ModeInfo struct {
	Name               string   `json:"name"`
	BudgetSeconds      *float64 `json:"budget_seconds"`
	MinIntervalSeconds float64  `json:"min_interval_seconds"`
	Default            bool     `json:"default"`
}

// ModesResponse is returned by /modes.
type ModesResponse struct {
	Modes   []ModeInfo `json:"modes"`
	Default string     `json:"default"`
}

// OCRResponse is returned by /ocr/image.
type OCRResponse struct {
	Success bool             `json:"success"`
	Result  *pipeline.Result `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// RaceResponse is returned by /ocr/race.
type RaceResponse struct {
	Success bool                 `json:"success"`
	Result  *pipeline.RaceResult `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// NewServer creates a server around runner. A nil runner makes the OCR
// endpoints answer 503.
func NewServer(runner Runner, config Config) *Server {
	modes := config.Modes
	if modes == nil {
		modes = mode.Builtin()
	}
	defaultMode := config.DefaultMode
	if defaultMode == "" {
		defaultMode = mode.Default
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}
	s := &Server{
		runner:      runner,
		modes:       modes,
		defaultMode: modes.Lookup(defaultMode).Name,
		race:        config.Race,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: maxUpload,
		timeout:     config.Timeout,
		started:     time.Now(),
	}
	if config.RequestsPerMinute > 0 || config.MaxDataPerDayMB > 0 {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, config.MaxDataPerDayMB*1024*1024)
	}
	return s
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/modes", s.corsMiddleware(s.modesHandler))
	mux.HandleFunc("/ocr/image", s.corsMiddleware(s.rateLimitMiddleware(s.ocrImageHandler)))
	mux.HandleFunc("/ocr/race", s.corsMiddleware(s.rateLimitMiddleware(s.ocrRaceHandler)))
	mux.HandleFunc("/ws/stream", s.streamWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
