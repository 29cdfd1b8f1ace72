// Package main provides the entrypoint for the bulk import API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/api"
	"github.com/bulkimport/bulkimport/internal/api/handler"
	"github.com/bulkimport/bulkimport/internal/api/middleware"
	"github.com/bulkimport/bulkimport/internal/app"
	"github.com/bulkimport/bulkimport/internal/config"
	"github.com/bulkimport/bulkimport/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "bulkimport-api"

	cfg := mustLoadConfig(".env")
	log := cfg.Logger(serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Str("store", cfg.Store).
		Bool("pubsub", cfg.PubSub.Enabled()).
		Msg("starting bulk import API")

	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Component:      "api",
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics(middleware.MetricsConfig{})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	a, err := app.New(ctx, cfg, app.Options{Version: Version}, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to assemble importer")
		os.Exit(1)
	}
	defer func() {
		a.Reporter.Flush(2 * time.Second)
		if closeErr := a.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to release resources")
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	a.Start(runCtx)

	subsystems := map[string]handler.Pinger{}
	if a.DB != nil {
		subsystems["postgres"] = a.DB
	}

	router := api.NewRouter(api.RouterConfig{
		Version:            Version,
		BuildTime:          BuildTime,
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            metrics,
		Reporter:           a.Reporter,
		Tasks:              a.Service,
		MaxSourceFileBytes: cfg.API.MaxSourceFileBytes,
		Token:              cfg.API.Token,
		JWTSigningKey:      cfg.API.JWTSigningKey,
		JWTIssuer:          cfg.API.JWTIssuer,
		JWTAudience:        cfg.API.JWTAudience,
		RequireTLS:         cfg.API.RequireTLS,
		Subsystems:         subsystems,
		Origins:            a.Health,
		Jobs:               a.Metrics,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	// In-process jobs stop once the server no longer accepts requests.
	stop()

	log.Info().Msg("server stopped")
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
