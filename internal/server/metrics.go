package server

import (
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrcascade_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocrcascade_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// OCR processing metrics
	ocrRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrcascade_ocr_requests_total",
			Help: "Total number of OCR requests",
		},
		[]string{"type", "status"}, // type: image, race, stream
	)

	ocrProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocrcascade_ocr_processing_duration_seconds",
			Help:    "OCR processing duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 3.5, 5, 10, 25},
		},
		[]string{"type"},
	)

	pipelineCasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrcascade_pipeline_case_total",
			Help: "Pipeline runs by the stage that produced the final result",
		},
		[]string{"mode", "case"},
	)

	raceWinnersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrcascade_race_winner_total",
			Help: "Engine races by winning engine",
		},
		[]string{"engine"}, // "none" when no engine was reliable
	)

	ocrConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocrcascade_ocr_confidence",
			Help:    "Confidence of the final result",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"type"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrcascade_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, data
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocrcascade_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocrcascade_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrcascade_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)

	streamFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ocrcascade_stream_frames_dropped_total",
			Help: "Streamed frames overwritten before the pipeline picked them up",
		},
	)
)

func recordPipelineResult(kind string, res pipeline.Result, elapsed time.Duration) {
	status := "ok"
	if res.CaseTriggered == pipeline.CaseException {
		status = "error"
	}
	ocrRequestsTotal.WithLabelValues(kind, status).Inc()
	ocrProcessingDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	pipelineCasesTotal.WithLabelValues(res.Mode, res.CaseTriggered).Inc()
	ocrConfidence.WithLabelValues(kind).Observe(res.FinalResult.Confidence)
}

func recordRaceResult(res pipeline.RaceResult, elapsed time.Duration) {
	winner := "none"
	if res.Winner != nil {
		winner = *res.Winner
	}
	ocrRequestsTotal.WithLabelValues("race", "ok").Inc()
	ocrProcessingDuration.WithLabelValues("race").Observe(elapsed.Seconds())
	raceWinnersTotal.WithLabelValues(winner).Inc()
	ocrConfidence.WithLabelValues("race").Observe(res.Confidence)
}
