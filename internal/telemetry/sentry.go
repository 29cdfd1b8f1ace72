package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// SentryConfig holds configuration for unexpected error reporting.
type SentryConfig struct {
	// DSN of the Sentry project. Reporting is disabled when empty.
	DSN         string
	Environment string
	Release     string

	// BeforeSend may inspect or drop events before they are sent.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event

	Logger zerolog.Logger
}

// SentryReporter reports unexpected import errors to Sentry.
type SentryReporter struct {
	hub    *sentry.Hub
	logger zerolog.Logger
}

// NewSentryReporter creates a reporter. Without a DSN the reporter only logs.
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	r := &SentryReporter{logger: cfg.Logger}
	if cfg.DSN == "" {
		return r, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	r.hub = sentry.NewHub(client, sentry.NewScope())
	return r, nil
}

// Enabled reports whether events are sent to Sentry.
func (r *SentryReporter) Enabled() bool {
	return r.hub != nil
}

// CaptureUnexpected reports msg with the given tags.
func (r *SentryReporter) CaptureUnexpected(_ context.Context, msg string, tags map[string]string) {
	event := r.logger.Error()
	for k, v := range tags {
		event = event.Str(k, v)
	}
	event.Msg(msg)

	if r.hub == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(tags)
		r.hub.CaptureMessage(msg)
	})
}

// Flush waits for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	if r.hub == nil {
		return true
	}
	return r.hub.Flush(timeout)
}
