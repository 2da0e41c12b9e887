package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/podiumhq/transcript-gateway/internal/backend"
	"github.com/podiumhq/transcript-gateway/internal/config"
	"github.com/podiumhq/transcript-gateway/internal/events"
	"github.com/podiumhq/transcript-gateway/internal/gateway"
	"github.com/podiumhq/transcript-gateway/internal/observability"
	"github.com/podiumhq/transcript-gateway/internal/provider"
	"github.com/podiumhq/transcript-gateway/internal/supervisor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("batch_provider_url", cfg.BatchProviderURL).
		Str("stream_provider_url", cfg.StreamProviderURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Transcript Gateway Service starting")

	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second

	// Batch transcription provider behind a circuit breaker
	batchBreaker := supervisor.NewCircuitBreaker("batch-provider", cfg.CircuitBreakerMaxFailures, resetTimeout)
	batchClient := provider.NewBatchClient(cfg.BatchProviderURL, cfg.MinPayloadBytes, cfg.MaxPayloadBytes, batchBreaker, logger)

	// Streaming relay dialer, when configured
	var streamDial backend.StreamDialer
	if cfg.StreamProviderURL != "" {
		streamDial = func(ctx context.Context, sessionID string) (backend.StreamConnection, error) {
			conn, err := provider.DialStream(ctx, cfg.StreamProviderURL, sessionID, cfg.SampleRate, true, logger)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}

	// Analysis and tokenizer collaborators
	analysisBreaker := supervisor.NewCircuitBreaker("analysis", cfg.CircuitBreakerMaxFailures, resetTimeout)
	analysisClient := provider.NewAnalysisClient(provider.AnalysisOptions{
		PrimaryURL:  cfg.AnalysisURL,
		FallbackURL: cfg.AnalysisFallbackURL,
		AllowMock:   cfg.AnalysisAllowMock,
	}, analysisBreaker, logger)
	tokenizer := provider.NewTokenizerService(cfg.TokenizerURL, logger)

	// Redis fan-out of session lifecycle and finalized entries
	publisher := events.NewPublisher(cfg.RedisAddr, cfg.RedisPrefix, logger)
	defer publisher.Close()

	mux := http.NewServeMux()

	// Capture WebSocket endpoint
	mux.HandleFunc("/ws/capture", gateway.Handler(gateway.Deps{
		Cfg:        cfg,
		Uploader:   batchClient,
		StreamDial: streamDial,
		Analysis:   analysisClient,
		Tokenizer:  tokenizer,
		Events:     publisher,
	}))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	checks := map[string]observability.HealthCheckFunc{
		"batch_provider": func(ctx context.Context) (bool, error) {
			return batchClient.Ready(ctx)
		},
	}
	if publisher.Enabled() {
		checks["redis"] = func(ctx context.Context) (bool, error) {
			if err := publisher.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Write timeout stays unset so
	// long-lived WebSocket sessions are not cut off.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 0,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/capture", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
