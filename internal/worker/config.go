// Package worker runs import jobs: a Pub/Sub publisher and subscriber for
// deployed workers, and an in-process pool for local runs.
package worker

import (
	"context"
	"time"

	"github.com/bulkimport/bulkimport/internal/importer"
)

// JobHandler runs one job.
type JobHandler interface {
	Handle(ctx context.Context, job importer.Job) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job importer.Job) error

// Handle calls f.
func (f JobHandlerFunc) Handle(ctx context.Context, job importer.Job) error {
	return f(ctx, job)
}

// PoolConfig holds configuration for the local worker pool.
type PoolConfig struct {
	// Concurrency is the number of jobs handled at once.
	// Default: 4
	Concurrency int

	// JobTimeout bounds a single job attempt.
	// Default: 5 minutes
	JobTimeout time.Duration

	// MaxAttempts is the number of times a failing job is tried.
	// Default: 3
	MaxAttempts int

	// RetryInterval is the initial wait between attempts.
	// Default: 100 milliseconds
	RetryInterval time.Duration
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:   4,
		JobTimeout:    5 * time.Minute,
		MaxAttempts:   3,
		RetryInterval: 100 * time.Millisecond,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	return c
}
