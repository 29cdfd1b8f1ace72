package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/telemetry"
)

// ErrPoolClosed is returned when dispatching to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// PoolDeps holds the collaborators of a Pool.
type PoolDeps struct {
	Config  PoolConfig
	Handler JobHandler
	// Metrics is optional.
	Metrics *JobMetrics
	Logger  zerolog.Logger
}

// Pool is an in-process dispatcher. Jobs are queued without bound so
// handlers may dispatch follow-up jobs from inside a worker.
type Pool struct {
	config  PoolConfig
	handler JobHandler
	metrics *JobMetrics
	logger  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []importer.Job
	pending int
	closed  bool
	wg      sync.WaitGroup
}

var _ importer.Dispatcher = (*Pool)(nil)

// NewPool creates a worker pool. Call Start before dispatching.
func NewPool(deps PoolDeps) *Pool {
	p := &Pool{
		config:  deps.Config.withDefaults(),
		handler: deps.Handler,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetHandler sets the handler when it is built after the pool, as when the
// handler dispatches to the pool itself.
func (p *Pool) SetHandler(h JobHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Start launches the workers. They stop once ctx is cancelled or Close is
// called and the queue is drained.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().
		Int("concurrency", p.config.Concurrency).
		Msg("starting worker pool")

	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx)
		}()
	}

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.cond.Broadcast()
		p.mu.Unlock()
	}()
}

// Dispatch queues a job.
func (p *Pool) Dispatch(ctx context.Context, job importer.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, job)
	p.pending++
	p.cond.Broadcast()
	return nil
}

// Wait blocks until every dispatched job, including those dispatched while
// waiting, has been handled.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.cond.Wait()
	}
}

// Close stops accepting jobs, lets the workers drain the queue and waits
// for them to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		handler := p.handler
		p.mu.Unlock()

		p.run(ctx, handler, job)

		p.mu.Lock()
		p.pending--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pool) run(ctx context.Context, handler JobHandler, job importer.Job) {
	start := time.Now()
	logger := p.logger.With().
		Str("job_type", string(job.Type)).
		Str("task_id", job.TaskID).
		Str("record_id", job.RecordID).
		Logger()

	ctx, span := telemetry.StartSpan(ctx, "worker", "job."+string(job.Type),
		append(telemetry.TaskAttributes(job.TaskID, job.RecordID), telemetry.AttrJobType.String(string(job.Type)))...,
	)

	attempts := 0
	op := func() error {
		attempts++
		jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
		return handle(jobCtx, handler, job)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, retry, func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("job failed, retrying")
	})

	duration := time.Since(start)
	span.SetAttributes(attribute.Int("attempts", attempts))
	telemetry.EndSpan(span, err)
	if p.metrics != nil {
		p.metrics.record(ctx, job, duration, attempts-1, err)
	}

	if err != nil {
		logger.Error().Err(err).Int("attempts", attempts).Msg("job failed")
		return
	}
	logger.Debug().Dur("duration", duration).Msg("job completed")
}

// handle calls the handler, turning a panic into an error.
func handle(ctx context.Context, handler JobHandler, job importer.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if handler == nil {
		return backoff.Permanent(errors.New("no job handler configured"))
	}
	return handler.Handle(ctx, job)
}
