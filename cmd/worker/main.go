// Package main provides the entrypoint for the bulk import worker. It
// handles the jobs the API dispatches over Pub/Sub.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/app"
	"github.com/bulkimport/bulkimport/internal/config"
	"github.com/bulkimport/bulkimport/internal/telemetry"
	"github.com/bulkimport/bulkimport/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "bulkimport-worker"

	cfg := mustLoadConfig(".env")
	log := cfg.Logger(serviceName, Version)

	if !cfg.PubSub.Enabled() {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required; without it the API runs jobs in-process")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("subscription", cfg.PubSub.Subscription).
		Msg("starting bulk import worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Component:      "worker",
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	// Jobs fanned out by a handler are published back to the topic.
	a, err := app.New(ctx, cfg, app.Options{Version: Version}, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to assemble importer")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer func() {
		a.Reporter.Flush(2 * time.Second)
		_ = a.Close()
	}()

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:              cfg.PubSub.ProjectID,
		SubscriptionName:       cfg.PubSub.Subscription,
		Handler:                a.Service,
		Metrics:                a.Metrics,
		MaxOutstandingMessages: cfg.PubSub.MaxOutstanding,
		Logger:                 log.With().Str("component", "subscriber").Logger(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create pubsub handler")
		os.Exit(1)
	}
	defer func() { _ = handler.Close() }()

	// The worker exposes a health endpoint for the platform it runs on.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"version": Version,
			"jobs":    a.Metrics.Snapshot(),
			"origins": a.Health.Snapshot(),
		})
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	go func() {
		if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pubsub receive stopped")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// mustLoadConfig loads the configuration or exits before a service logger
// exists.
func mustLoadConfig(envFile string) *config.Config {
	cfg, err := config.Load(envFile)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}
