package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the OCR API",
	Long: `Start an HTTP server that exposes the pipeline over REST and WebSocket.

The server provides the following endpoints:
  GET  /health     - Health check endpoint
  GET  /modes      - List execution modes
  POST /ocr/image  - Run the pipeline on an uploaded image
  POST /ocr/race   - Race the engines on an uploaded image
  GET  /ws/stream  - Stream frames over WebSocket and receive results
  GET  /metrics    - Prometheus metrics

Examples:
  ocrcascade serve
  ocrcascade serve --port 8080
  ocrcascade serve --host 0.0.0.0 --port 3000 --requests-per-minute 60`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		flags := cmd.Flags()

		host := cfg.Server.Host
		if flags.Changed("host") {
			host, _ = flags.GetString("host")
		}
		port := cfg.Server.Port
		if flags.Changed("port") {
			port, _ = flags.GetInt("port")
		}
		corsOrigin := cfg.Server.CORSOrigin
		if flags.Changed("cors-origin") {
			corsOrigin, _ = flags.GetString("cors-origin")
		}
		maxUploadSize := cfg.Server.MaxUploadMB
		if flags.Changed("max-upload-size") {
			maxUploadSize, _ = flags.GetInt("max-upload-size")
		}
		timeout := cfg.Server.TimeoutSec
		if flags.Changed("timeout") {
			timeout, _ = flags.GetInt("timeout")
		}
		shutdownTimeout := cfg.Server.ShutdownTimeout
		if flags.Changed("shutdown-timeout") {
			shutdownTimeout, _ = flags.GetInt("shutdown-timeout")
		}
		requestsPerMinute := cfg.Server.RequestsPerMinute
		if flags.Changed("requests-per-minute") {
			requestsPerMinute, _ = flags.GetInt("requests-per-minute")
		}
		maxDataPerDay := cfg.Server.MaxDataPerDayMB
		if flags.Changed("max-data-per-day") {
			maxDataPerDay, _ = flags.GetInt64("max-data-per-day")
		}

		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
		}

		modes, err := cfg.ModeTable()
		if err != nil {
			return err
		}
		runner, cleanup, err := newRunner(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer cleanup()

		serverConfig := server.Config{
			Host:              host,
			Port:              port,
			CORSOrigin:        corsOrigin,
			MaxUploadMB:       int64(maxUploadSize),
			Timeout:           time.Duration(timeout) * time.Second,
			DefaultMode:       cfg.Mode,
			Modes:             modes,
			Race:              cfg.RaceOptions(),
			RequestsPerMinute: requestsPerMinute,
			MaxDataPerDayMB:   maxDataPerDay,
		}
		ocrServer := server.NewServer(runner, serverConfig)

		httpServer := &http.Server{
			Addr:              serverConfig.Addr(),
			Handler:           ocrServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		serveErr := make(chan error, 1)
		go func() {
			slog.Info("Starting OCR server", "host", host, "port", port, "mode", cfg.Mode)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
			slog.Info("Received shutdown signal")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
			return err
		}
		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Int("requests-per-minute", 0, "maximum requests per minute per client (0 = unlimited)")
	serveCmd.Flags().Int64("max-data-per-day", 0, "maximum uploaded MB per day per client (0 = unlimited)")
}
