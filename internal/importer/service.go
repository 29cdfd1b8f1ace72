package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/state"
	"github.com/bulkimport/bulkimport/internal/task"
)

// ServiceConfig holds configuration for the import service.
type ServiceConfig struct {
	Tasks task.Repository
	// RecordTypes is the record type registry.
	RecordTypes *recordtype.Config
	// Types holds the implementation of each configured record type.
	Types       map[string]recordtype.RecordType
	Serializers *serializer.Registry
	Dispatcher  Dispatcher
	// Buckets stores the ancillary files of tasks. Optional.
	Buckets repository.BucketService
	// Reporter captures unexpected errors. Optional.
	Reporter ErrorReporter
	Logger   zerolog.Logger
}

// Service exposes the import entry points and handles dispatched jobs.
type Service struct {
	tasks       task.Repository
	recordTypes *recordtype.Config
	types       map[string]recordtype.RecordType
	serializers *serializer.Registry
	dispatcher  Dispatcher
	buckets     repository.BucketService
	reporter    ErrorReporter
	logger      zerolog.Logger
}

// NewService creates a new import service.
func NewService(cfg ServiceConfig) *Service {
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	recordTypes := cfg.RecordTypes
	if recordTypes == nil {
		recordTypes = recordtype.DefaultConfig()
	}

	return &Service{
		tasks:       cfg.Tasks,
		recordTypes: recordTypes,
		types:       cfg.Types,
		serializers: cfg.Serializers,
		dispatcher:  cfg.Dispatcher,
		buckets:     cfg.Buckets,
		reporter:    reporter,
		logger:      cfg.Logger,
	}
}

// CreateTask stores a new task in status created. Options default to those
// of the record type.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*task.ImportTask, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	mode := in.Mode
	if mode == "" {
		mode = record.ModeImport
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidTask, mode)
	}

	rt, err := s.recordTypes.Lookup(in.RecordType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if _, ok := s.types[in.RecordType]; !ok {
		return nil, fmt.Errorf("%w: record type %q has no implementation", ErrInvalidTask, in.RecordType)
	}
	if !rt.SupportsSerializer(in.Serializer) {
		return nil, fmt.Errorf("%w: record type %q does not accept serializer %q", ErrInvalidTask, in.RecordType, in.Serializer)
	}
	if _, err := s.serializers.Get(in.Serializer); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	opts := rt.Options
	if in.Options != nil {
		opts = *in.Options
	}

	now := time.Now()
	t := &task.ImportTask{
		ID:            task.NewTaskID(),
		Title:         in.Title,
		Description:   in.Description,
		Mode:          mode,
		RecordType:    in.RecordType,
		Serializer:    in.Serializer,
		Options:       opts,
		Status:        state.TaskCreated,
		RecordsStatus: state.NewCounts(nil),
		BucketID:      in.BucketID,
		StartedBy:     in.StartedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.tasks.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.logger.Info().
		Str("task_id", t.ID).
		Str("record_type", t.RecordType).
		Str("mode", string(t.Mode)).
		Msg("import task created")
	return t, nil
}

// AttachSourceFile stores the raw source file of a task, replacing any
// previous one. The content type is sniffed from the data.
func (s *Service) AttachSourceFile(ctx context.Context, taskID, name string, data []byte) (*task.SourceFile, error) {
	if len(data) == 0 {
		return nil, ErrEmptySourceFile
	}
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	f := &task.SourceFile{
		Name:        name,
		ContentType: mimetype.Detect(data).String(),
		Size:        int64(len(data)),
		Data:        data,
	}
	if err := s.tasks.PutSourceFile(ctx, taskID, f); err != nil {
		return nil, fmt.Errorf("storing source file: %w", err)
	}

	s.logger.Debug().
		Str("task_id", taskID).
		Str("file", name).
		Str("content_type", f.ContentType).
		Int64("size", f.Size).
		Msg("source file attached")
	return f, nil
}

// BeginValidation queues loading and validation of the task's source file.
// Records of a previous validation are discarded when the job runs.
func (s *Service) BeginValidation(ctx context.Context, taskID string) error {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if _, err := s.tasks.GetSourceFile(ctx, taskID); err != nil {
		return err
	}

	now := time.Now()
	t.StartedAt = &now
	t.CompletedAt = nil
	t.UpdatedAt = now
	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	return s.dispatch(ctx, Job{Type: JobLoadFile, TaskID: taskID})
}

// BeginImport queues the import of every validated record of the task.
func (s *Service) BeginImport(ctx context.Context, taskID string) error {
	t, err := s.RecomputeTaskStatus(ctx, taskID)
	if err != nil {
		return err
	}
	if !t.Status.CanBeginImport() {
		return fmt.Errorf("%w: task is %s", ErrTaskNotReady, t.Status)
	}
	return s.dispatch(ctx, Job{Type: JobRunRecords, TaskID: taskID})
}

// RunOne queues the import of a single validated record.
func (s *Service) RunOne(ctx context.Context, taskID, recordID string) error {
	rec, err := s.tasks.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.TaskID != taskID {
		return task.ErrRecordNotFound
	}
	if rec.Status != state.RecordValidated {
		return fmt.Errorf("%w: record is %s", ErrRecordNotReady, rec.Status)
	}
	return s.dispatch(ctx, Job{Type: JobRunRecord, TaskID: taskID, RecordID: recordID})
}

// RecomputeTaskStatus derives the task status from its records and stores
// it. It is safe to call at any time; concurrent calls converge once the
// records stop changing.
func (s *Service) RecomputeTaskStatus(ctx context.Context, taskID string) (*task.ImportTask, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	counts, err := s.tasks.StatusCounts(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	status := state.Calculate(counts)
	now := time.Now()
	if status != t.Status {
		s.logger.Info().
			Str("task_id", taskID).
			Str("from", string(t.Status)).
			Str("to", string(status)).
			Msg("task status changed")
	}
	if status == state.TaskDamaged {
		s.logger.Error().Str("task_id", taskID).Interface("records_status", counts).Msg("record counts do not add up")
	}

	t.Status = status
	t.RecordsStatus = counts
	t.UpdatedAt = now
	switch {
	case status.Terminal() && t.CompletedAt == nil:
		t.CompletedAt = &now
	case !status.Terminal():
		t.CompletedAt = nil
	}
	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	return t, nil
}

// UpdateOptions replaces the options of a task. Options are fixed once the
// task starts importing.
func (s *Service) UpdateOptions(ctx context.Context, taskID string, opts recordtype.Options) (*task.ImportTask, error) {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case state.TaskImporting, state.TaskImportedWithFailure, state.TaskSuccess:
		return nil, fmt.Errorf("%w: task is %s", ErrTaskStarted, t.Status)
	}

	t.Options = opts
	t.UpdatedAt = time.Now()
	if err := s.tasks.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	s.logger.Info().
		Str("task_id", taskID).
		Bool("doi_minting", opts.DOIMinting).
		Bool("publish", opts.Publish).
		Msg("task options updated")
	return t, nil
}

// RecordTypeConfig returns the configuration of a record type.
func (s *Service) RecordTypeConfig(name string) (recordtype.Type, error) {
	return s.recordTypes.Lookup(name)
}

// GetTask returns a task.
func (s *Service) GetTask(ctx context.Context, taskID string) (*task.ImportTask, error) {
	return s.tasks.GetTask(ctx, taskID)
}

// ListTasks lists tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, opts task.ListOptions) (*task.TaskListResult, error) {
	return s.tasks.ListTasks(ctx, opts)
}

// ListRecords lists the records of a task.
func (s *Service) ListRecords(ctx context.Context, taskID string, opts task.RecordListOptions) (*task.RecordListResult, error) {
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.tasks.ListRecords(ctx, taskID, opts)
}

// GetRecord returns a record of a task.
func (s *Service) GetRecord(ctx context.Context, taskID, recordID string) (*task.ImportRecord, error) {
	rec, err := s.tasks.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.TaskID != taskID {
		return nil, task.ErrRecordNotFound
	}
	return rec, nil
}

func (s *Service) dispatch(ctx context.Context, job Job) error {
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return fmt.Errorf("dispatching %s: %w", job.Type, err)
	}
	return nil
}

// isGone reports whether err means the job's target no longer exists.
func isGone(err error) bool {
	return errors.Is(err, task.ErrTaskNotFound) || errors.Is(err, task.ErrRecordNotFound)
}
