package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/importer"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          JobHandler
	metrics          *JobMetrics
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Handler          JobHandler
	// Metrics is optional.
	Metrics *JobMetrics
	// MaxOutstandingMessages bounds concurrently handled messages.
	// Default: 10
	MaxOutstandingMessages int
	Logger                 zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	maxOutstanding := cfg.MaxOutstandingMessages
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	subscriber.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          cfg.Handler,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if h.handleMessage(ctx, msg.ID, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// handleMessage runs the job carried by data and reports whether the message
// should be acked.
func (h *PubSubHandler) handleMessage(ctx context.Context, id string, data []byte) bool {
	startTime := time.Now()
	logger := h.logger.With().Str("message_id", id).Logger()

	job, err := DecodeJob(data)
	if err != nil {
		// Undecodable messages are never going to succeed.
		logger.Error().Err(err).Msg("failed to parse message")
		return true
	}
	logger = logger.With().
		Str("job_type", string(job.Type)).
		Str("task_id", job.TaskID).
		Str("record_id", job.RecordID).
		Logger()

	err = handle(ctx, h.handler, job)
	duration := time.Since(startTime)
	if h.metrics != nil {
		h.metrics.record(ctx, job, duration, 0, err)
	}
	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		return false
	}

	logger.Info().Dur("duration", duration).Msg("job completed successfully")
	return true
}

// EncodeJob serializes a job as a Pub/Sub message payload.
func EncodeJob(job importer.Job) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob parses a Pub/Sub message payload.
func DecodeJob(data []byte) (importer.Job, error) {
	var job importer.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return importer.Job{}, fmt.Errorf("decoding job: %w", err)
	}
	if job.Type == "" || job.TaskID == "" {
		return importer.Job{}, fmt.Errorf("decoding job: job_type and task_id are required")
	}
	return job, nil
}

// PublishConfig holds configuration for the Pub/Sub dispatcher.
type PublishConfig struct {
	ProjectID string
	TopicName string
	// PublishTimeout bounds publishing one job including retries.
	// Default: 30 seconds
	PublishTimeout time.Duration
	Logger         zerolog.Logger
}

// PubSubDispatcher publishes jobs to a Pub/Sub topic.
type PubSubDispatcher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	timeout   time.Duration
	logger    zerolog.Logger
}

var _ importer.Dispatcher = (*PubSubDispatcher)(nil)

// NewPubSubDispatcher creates a Pub/Sub dispatcher.
func NewPubSubDispatcher(ctx context.Context, cfg PublishConfig) (*PubSubDispatcher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &PubSubDispatcher{
		client:    client,
		publisher: client.Publisher(cfg.TopicName),
		timeout:   timeout,
		logger:    cfg.Logger,
	}, nil
}

// Dispatch publishes a job, retrying transient failures.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, job importer.Job) error {
	data, err := EncodeJob(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var serverID string
	op := func() error {
		res := d.publisher.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"job_type": string(job.Type)},
		})
		id, err := res.Get(ctx)
		if err != nil {
			return err
		}
		serverID = id
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return fmt.Errorf("publishing job: %w", err)
	}

	d.logger.Debug().
		Str("message_id", serverID).
		Str("job_type", string(job.Type)).
		Str("task_id", job.TaskID).
		Msg("job published")
	return nil
}

// Close flushes pending messages and closes the client.
func (d *PubSubDispatcher) Close() error {
	d.publisher.Stop()
	return d.client.Close()
}
