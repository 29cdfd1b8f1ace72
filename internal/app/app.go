// Package app assembles the import pipeline from configuration. Every
// binary builds its components through New.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/config"
	"github.com/bulkimport/bulkimport/internal/database"
	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/rdm"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/repository/invenio"
	"github.com/bulkimport/bulkimport/internal/resilience"
	"github.com/bulkimport/bulkimport/internal/resolve"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/task"
	"github.com/bulkimport/bulkimport/internal/telemetry"
	"github.com/bulkimport/bulkimport/internal/worker"
)

// Options adjust how New assembles the pipeline.
type Options struct {
	// Version is reported to Sentry as the release.
	Version string

	// LocalJobs runs jobs on an in-process pool even when Pub/Sub is
	// configured.
	LocalJobs bool

	// Checkers override the remote file checkers. Used by tests.
	Checkers *Checkers
}

// FileOrigin checks and streams the files of one remote origin.
type FileOrigin interface {
	resolve.Checker
	resolve.Opener
}

// Checkers are the remote file origins.
type Checkers struct {
	URL FileOrigin
	S3  FileOrigin
	GCS FileOrigin
}

// App holds the assembled components.
type App struct {
	Config      *config.Config
	RecordTypes *recordtype.Config
	Service     *importer.Service
	Tasks       task.Repository
	Health      *resilience.Health
	Metrics     *worker.JobMetrics
	Reporter    *telemetry.SentryReporter

	// Pool runs jobs in-process. It is nil when jobs go over Pub/Sub.
	Pool *worker.Pool

	// Memory is the in-memory platform when no platform URL is configured.
	Memory *repository.InMemory

	// DB is the task store connection pool. It is nil with the memory store.
	DB *pgxpool.Pool

	logger  zerolog.Logger
	closers []func() error
}

// platform bundles the services rdm and the serializer need.
type platform struct {
	records     repository.RecordService
	files       repository.FileService
	reviews     repository.ReviewService
	communities repository.CommunityService
	vocabulary  repository.VocabularyService
	buckets     repository.BucketService
	uow         repository.UnitOfWork
}

// New assembles the pipeline described by cfg.
func New(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (a *App, err error) {
	a = &App{Config: cfg, Health: resilience.NewHealth(), logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.RecordTypes, err = loadRecordTypes(cfg.Importer.RecordTypesFile); err != nil {
		return nil, err
	}
	if a.Tasks, err = a.openTasks(ctx); err != nil {
		return nil, err
	}
	if a.Metrics, err = worker.NewJobMetrics(); err != nil {
		return nil, fmt.Errorf("create job metrics: %w", err)
	}
	if a.Reporter, err = telemetry.NewSentryReporter(telemetry.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     opts.Version,
		Logger:      logger.With().Str("component", "reporter").Logger(),
	}); err != nil {
		return nil, err
	}

	p, err := a.openPlatform()
	if err != nil {
		return nil, err
	}
	checkers, err := a.checkers(ctx, opts.Checkers)
	if err != nil {
		return nil, err
	}

	types, serializers, err := a.recordTypes(p, checkers)
	if err != nil {
		return nil, err
	}

	var dispatcher importer.Dispatcher
	if cfg.PubSub.Enabled() && !opts.LocalJobs {
		d, err := worker.NewPubSubDispatcher(ctx, worker.PublishConfig{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.Topic,
			Logger:    logger.With().Str("component", "dispatcher").Logger(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		dispatcher = d
	} else {
		poolCfg := worker.DefaultPoolConfig()
		poolCfg.Concurrency = cfg.Importer.Workers
		poolCfg.JobTimeout = cfg.Importer.JobTimeout
		a.Pool = worker.NewPool(worker.PoolDeps{
			Config:  poolCfg,
			Metrics: a.Metrics,
			Logger:  logger.With().Str("component", "pool").Logger(),
		})
		dispatcher = a.Pool
	}

	a.Service = importer.NewService(importer.ServiceConfig{
		Tasks:       a.Tasks,
		RecordTypes: a.RecordTypes,
		Types:       types,
		Serializers: serializers,
		Dispatcher:  dispatcher,
		Buckets:     p.buckets,
		Reporter:    a.Reporter,
		Logger:      logger.With().Str("component", "importer").Logger(),
	})
	if a.Pool != nil {
		a.Pool.SetHandler(a.Service)
	}
	return a, nil
}

// Start launches the in-process pool, if any.
func (a *App) Start(ctx context.Context) {
	if a.Pool != nil {
		a.Pool.Start(ctx)
	}
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadRecordTypes(path string) (*recordtype.Config, error) {
	if path == "" {
		return recordtype.DefaultConfig(), nil
	}
	return recordtype.Load(path)
}

func (a *App) openTasks(ctx context.Context) (task.Repository, error) {
	if a.Config.Store != config.StorePostgres {
		return task.NewInMemoryRepository(), nil
	}

	pool, err := database.Connect(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.DB = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if err := database.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	a.logger.Info().
		Str("host", a.Config.Database.Host).
		Str("database", a.Config.Database.Database).
		Msg("task store connected")
	return task.NewPostgresRepository(pool), nil
}

func (a *App) openPlatform() (*platform, error) {
	if a.Config.Platform.URL == "" {
		a.Memory = repository.NewInMemory()
		m := a.Memory
		a.logger.Warn().Msg("no platform configured, using the in-memory platform")
		return &platform{m, m, m, m, m, m, m}, nil
	}

	clientCfg := resilience.DefaultClientConfig("platform")
	clientCfg.UserAgent = a.Config.Importer.UserAgent
	clientCfg.Health = a.Health
	clientCfg.CircuitBreaker.OnStateChange = resilience.LogStateChanges(a.logger)
	uploadCfg := clientCfg
	uploadCfg.Name = "platform-upload"
	uploadCfg.Streaming = true
	client, err := invenio.New(invenio.Config{
		BaseURL: a.Config.Platform.URL,
		Token:   a.Config.Platform.Token,
		HTTP:    resilience.NewClient(clientCfg),
		Upload:  resilience.NewClient(uploadCfg),
		Logger:  a.logger.With().Str("component", "platform").Logger(),
	})
	if err != nil {
		return nil, err
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(a.Config.Importer.S3Region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	buckets := repository.NewS3Buckets(s3.New(sess), a.Config.Platform.FilesBucket)
	return &platform{client, client, client, client, client, buckets, client}, nil
}

func (a *App) checkers(ctx context.Context, override *Checkers) (*Checkers, error) {
	if override != nil {
		return override, nil
	}

	clientCfg := resilience.DefaultClientConfig("file-url")
	clientCfg.Timeout = a.Config.Importer.FileCheckTimeout
	clientCfg.UserAgent = a.Config.Importer.UserAgent
	clientCfg.Health = a.Health
	clientCfg.CircuitBreaker.OnStateChange = resilience.LogStateChanges(a.logger)

	s3Checker, err := resolve.NewS3Checker(a.Config.Importer.S3Region)
	if err != nil {
		return nil, err
	}
	gcsChecker, err := resolve.NewGCSChecker(ctx)
	if err != nil {
		return nil, err
	}
	streamCfg := clientCfg
	streamCfg.Name = "file-url-stream"
	streamCfg.Streaming = true

	return &Checkers{
		URL: resolve.NewHTTPChecker(resilience.NewClient(clientCfg), resilience.NewClient(streamCfg)),
		S3:  s3Checker,
		GCS: gcsChecker,
	}, nil
}

// recordTypes builds an rdm implementation for every configured record type
// and the serializer registry shared by them.
func (a *App) recordTypes(p *platform, checkers *Checkers) (map[string]recordtype.RecordType, *serializer.Registry, error) {
	schemas := make(map[string]string)
	var customFields []serializer.CustomField
	seen := make(map[string]bool)
	for _, name := range a.RecordTypes.Names() {
		rt, _ := a.RecordTypes.Lookup(name)
		for _, cf := range rt.CustomFields {
			if cf.Schema != "" {
				schemas[cf.Field] = cf.Schema
			}
			if seen[cf.Field] {
				continue
			}
			transform, err := serializer.LookupTransformer(cf.Transformer)
			if err != nil {
				return nil, nil, fmt.Errorf("record type %q: %w", name, err)
			}
			customFields = append(customFields, serializer.CustomField{Field: cf.Field, Transform: transform})
			seen[cf.Field] = true
		}
	}

	validator, err := record.NewValidator(record.ValidatorConfig{CustomFieldSchemas: schemas})
	if err != nil {
		return nil, nil, err
	}

	files := resolve.NewFileResolver(resolve.FileResolverConfig{
		URL:          checkers.URL,
		S3:           checkers.S3,
		GCS:          checkers.GCS,
		Buckets:      p.buckets,
		CheckTimeout: a.Config.Importer.FileCheckTimeout,
		Logger:       a.logger.With().Str("component", "files").Logger(),
	})
	streamer := &resolve.Streamer{
		URL:     checkers.URL,
		S3:      checkers.S3,
		GCS:     checkers.GCS,
		Buckets: p.buckets,
	}
	communities := resolve.NewCommunityResolver(p.communities)

	types := make(map[string]recordtype.RecordType)
	for _, name := range a.RecordTypes.Names() {
		rt, _ := a.RecordTypes.Lookup(name)
		types[name] = rdm.New(rdm.Config{
			Records:     p.records,
			Files:       p.files,
			Reviews:     p.reviews,
			UnitOfWork:  p.uow,
			FileChecks:  files,
			Communities: communities,
			Schema:      validator,
			Streamer:    streamer,
			DeleteNote:  rt.DeleteNote,
			Logger:      a.logger.With().Str("record_type", name).Logger(),
		})
	}

	serializers := serializer.NewRegistry(serializer.NewCSV(serializer.CSVConfig{
		Vocabulary:   p.vocabulary,
		CustomFields: customFields,
		Logger:       a.logger.With().Str("component", "serializer").Logger(),
	}))
	return types, serializers, nil
}
