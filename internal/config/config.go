// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/database"
)

// Task stores.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the configuration shared by every binary.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	Port        int    `env:"APP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// Store selects where tasks and records are kept.
	Store string `env:"IMPORTER_STORE" envDefault:"memory"`

	API       APIConfig
	Database  database.Config
	PubSub    PubSubConfig
	Importer  ImporterConfig
	Platform  PlatformConfig
	Telemetry TelemetryConfig
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	// Token is the shared bearer token of the API. Empty disables
	// authentication.
	Token string `env:"API_TOKEN"`
	// JWTSigningKey switches authentication to HS256 operator tokens whose
	// subject becomes the task owner.
	JWTSigningKey string `env:"API_JWT_SIGNING_KEY"`
	JWTIssuer     string `env:"API_JWT_ISSUER"`
	JWTAudience   string `env:"API_JWT_AUDIENCE"`

	RequireTLS         bool          `env:"REQUIRE_TLS" envDefault:"false"`
	MaxSourceFileBytes int64         `env:"API_MAX_SOURCE_FILE_BYTES" envDefault:"33554432"`
	ShutdownTimeout    time.Duration `env:"API_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// PubSubConfig configures job dispatch over Pub/Sub. Jobs run in-process
// when no project is set.
type PubSubConfig struct {
	ProjectID      string `env:"PUBSUB_PROJECT_ID"`
	Topic          string `env:"PUBSUB_TOPIC" envDefault:"import-jobs"`
	Subscription   string `env:"PUBSUB_SUBSCRIPTION" envDefault:"import-jobs-worker"`
	MaxOutstanding int    `env:"PUBSUB_MAX_OUTSTANDING" envDefault:"10"`
}

// Enabled reports whether jobs are dispatched over Pub/Sub.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != ""
}

// ImporterConfig configures the import pipeline.
type ImporterConfig struct {
	// RecordTypesFile is a YAML record type registry. The built-in registry
	// is used when empty.
	RecordTypesFile  string        `env:"IMPORTER_RECORD_TYPES_FILE"`
	Workers          int           `env:"IMPORTER_WORKERS" envDefault:"4"`
	JobTimeout       time.Duration `env:"IMPORTER_JOB_TIMEOUT" envDefault:"5m"`
	FileCheckTimeout time.Duration `env:"IMPORTER_FILE_CHECK_TIMEOUT" envDefault:"10s"`
	S3Region         string        `env:"IMPORTER_S3_REGION" envDefault:"us-east-1"`
	UserAgent        string        `env:"IMPORTER_USER_AGENT" envDefault:"bulkimport"`
}

// PlatformConfig locates the repository platform. Without a URL an
// in-memory platform is used.
type PlatformConfig struct {
	URL   string `env:"PLATFORM_URL"`
	Token string `env:"PLATFORM_TOKEN"`
	// FilesBucket is the S3 bucket holding the file buckets of import tasks.
	FilesBucket string `env:"PLATFORM_FILES_BUCKET"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool          `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure       bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio    float64       `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"1"`
	ExportInterval time.Duration `env:"OTEL_METRIC_EXPORT_INTERVAL" envDefault:"15s"`
}

// Load reads the existing files among envFiles into the environment, then
// parses and validates the configuration. Variables already set win over
// the files.
func Load(envFiles ...string) (*Config, error) {
	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d out of range", c.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.Store != StoreMemory && c.Store != StorePostgres {
		errs = append(errs, fmt.Errorf("IMPORTER_STORE must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store))
	}
	if c.Importer.Workers <= 0 {
		errs = append(errs, errors.New("IMPORTER_WORKERS must be positive"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.API.MaxSourceFileBytes <= 0 {
		errs = append(errs, errors.New("API_MAX_SOURCE_FILE_BYTES must be positive"))
	}
	if c.Environment == "production" && c.API.Token == "" && c.API.JWTSigningKey == "" {
		errs = append(errs, errors.New("API_TOKEN or API_JWT_SIGNING_KEY is required in production"))
	}
	if c.Platform.URL != "" && c.Platform.FilesBucket == "" {
		errs = append(errs, errors.New("PLATFORM_FILES_BUCKET is required with PLATFORM_URL"))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger of service.
func (c *Config) Logger(service, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}
