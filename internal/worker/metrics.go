package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bulkimport/bulkimport/internal/importer"
)

const meterName = "github.com/bulkimport/bulkimport/internal/worker"

// JobMetrics tracks job statistics.
type JobMetrics struct {
	mu sync.RWMutex

	// Counters
	Total     int64
	Succeeded int64
	Failed    int64
	Retries   int64
	ByType    map[importer.JobType]int64

	// Timings
	LastJobAt     time.Time
	TotalDuration time.Duration

	jobDuration metric.Float64Histogram
	jobTotal    metric.Int64Counter
}

// NewJobMetrics creates job metrics backed by the global meter provider.
func NewJobMetrics() (*JobMetrics, error) {
	meter := otel.Meter(meterName)

	jobDuration, err := meter.Float64Histogram(
		"importer.job.duration",
		metric.WithDescription("Duration of import jobs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	jobTotal, err := meter.Int64Counter(
		"importer.job.total",
		metric.WithDescription("Total number of handled import jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return &JobMetrics{
		ByType:      make(map[importer.JobType]int64),
		jobDuration: jobDuration,
		jobTotal:    jobTotal,
	}, nil
}

func (m *JobMetrics) record(ctx context.Context, job importer.Job, d time.Duration, retries int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	m.mu.Lock()
	m.Total++
	if err != nil {
		m.Failed++
	} else {
		m.Succeeded++
	}
	m.Retries += int64(retries)
	if m.ByType == nil {
		m.ByType = make(map[importer.JobType]int64)
	}
	m.ByType[job.Type]++
	m.LastJobAt = time.Now()
	m.TotalDuration += d
	m.mu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("job.type", string(job.Type)),
		attribute.String("job.outcome", outcome),
	)
	if m.jobDuration != nil {
		m.jobDuration.Record(ctx, d.Seconds(), attrs)
	}
	if m.jobTotal != nil {
		m.jobTotal.Add(ctx, 1, attrs)
	}
}

// Snapshot returns the current metrics as a map.
func (m *JobMetrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]int64, len(m.ByType))
	for t, n := range m.ByType {
		byType[string(t)] = n
	}
	return map[string]interface{}{
		"total_jobs":     m.Total,
		"succeeded_jobs": m.Succeeded,
		"failed_jobs":    m.Failed,
		"retries":        m.Retries,
		"jobs_by_type":   byType,
		"last_job_at":    m.LastJobAt,
		"total_duration": m.TotalDuration.String(),
	}
}
