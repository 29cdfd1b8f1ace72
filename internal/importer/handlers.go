package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/state"
	"github.com/bulkimport/bulkimport/internal/task"
)

// Handle runs one job. Jobs whose task or record no longer exists are
// dropped without error so they are not redelivered.
func (s *Service) Handle(ctx context.Context, job Job) error {
	logger := s.logger.With().
		Str("job_type", string(job.Type)).
		Str("task_id", job.TaskID).
		Str("record_id", job.RecordID).
		Logger()

	var err error
	switch job.Type {
	case JobLoadFile:
		err = s.loadFile(ctx, job.TaskID, logger)
	case JobValidateRecord:
		err = s.validateRecord(ctx, job.RecordID, logger)
	case JobRunRecords:
		err = s.runRecords(ctx, job.TaskID)
	case JobRunRecord:
		err = s.runRecord(ctx, job.RecordID, logger)
	case JobFinalize:
		_, err = s.RecomputeTaskStatus(ctx, job.TaskID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}

	if isGone(err) {
		logger.Warn().Err(err).Msg("job target no longer exists")
		return nil
	}
	return err
}

// loadFile replaces the records of a task with one record per row of its
// source file, and queues their validation.
func (s *Service) loadFile(ctx context.Context, taskID string, logger zerolog.Logger) error {
	t, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	src, err := s.tasks.GetSourceFile(ctx, taskID)
	if err != nil {
		return err
	}
	ser, err := s.serializers.Get(t.Serializer)
	if err != nil {
		return err
	}

	if err := s.tasks.DeleteRecords(ctx, taskID); err != nil {
		return fmt.Errorf("deleting previous records: %w", err)
	}

	rows, err := ser.Load(bytes.NewReader(src.Data))
	if err != nil {
		logger.Error().Err(err).Msg("source file could not be loaded")
		if _, rerr := s.RecomputeTaskStatus(ctx, taskID); rerr != nil {
			return rerr
		}
		return nil
	}

	var created, broken int
	for row, rowErr := range rows {
		now := time.Now()
		rec := &task.ImportRecord{
			ID:        task.NewRecordID(),
			TaskID:    taskID,
			Status:    state.RecordCreated,
			SrcData:   row,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var parseErr *serializer.RowError
		if rowErr != nil {
			if !errors.As(rowErr, &parseErr) {
				return fmt.Errorf("reading source file: %w", rowErr)
			}
			rec.Status = state.RecordSerializerValidationFailed
			rec.Errors.Add(importerr.TypeCSVParse, "src_data", parseErr.Error())
			broken++
		}

		if err := s.tasks.CreateRecord(ctx, rec); err != nil {
			return fmt.Errorf("creating record: %w", err)
		}
		created++

		if rec.Status == state.RecordCreated {
			if err := s.dispatch(ctx, Job{Type: JobValidateRecord, TaskID: taskID, RecordID: rec.ID}); err != nil {
				return err
			}
		}
	}

	logger.Info().
		Int("records", created).
		Int("unreadable_rows", broken).
		Msg("source file loaded")

	return s.dispatch(ctx, Job{Type: JobFinalize, TaskID: taskID})
}

// validateRecord transforms and validates one record. Records that already
// finished validation are left alone.
func (s *Service) validateRecord(ctx context.Context, recordID string, logger zerolog.Logger) error {
	rec, err := s.tasks.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.Status.ValidationDone() {
		logger.Debug().Str("status", string(rec.Status)).Msg("record already validated")
		return nil
	}
	t, err := s.tasks.GetTask(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	ser, err := s.serializers.Get(t.Serializer)
	if err != nil {
		return err
	}
	rtConfig, err := s.recordTypes.Lookup(t.RecordType)
	if err != nil {
		return err
	}
	rt, ok := s.types[t.RecordType]
	if !ok {
		return fmt.Errorf("%w: %s", recordtype.ErrUnknownRecordType, t.RecordType)
	}

	if err := s.transition(ctx, rec, state.RecordValidating); err != nil {
		return err
	}

	data, errs := ser.Transform(ctx, rec.SrcData, t.Mode)
	if !errs.Empty() {
		rec.Errors = errs
		rec.Message = "Record could not be transformed."
		if err := s.transition(ctx, rec, state.RecordSerializerValidationFailed); err != nil {
			return err
		}
		_, err := s.RecomputeTaskStatus(ctx, t.ID)
		return err
	}
	rec.SerializerData = data

	v := rt.Validate(ctx, recordtype.ValidateInput{
		Data:              data,
		Mode:              t.Mode,
		BucketID:          t.BucketID,
		CommunityRequired: rtConfig.CommunityRequired,
	})
	rec.RecordFiles = v.Files
	rec.ValidatedRecordFiles = v.ValidatedFiles
	rec.CommunityUUIDs = v.Communities
	rec.ExistingRecordID = v.ExistingRecordID
	rec.Errors = v.Errors

	next := state.RecordValidated
	if v.OK() {
		rec.TransformedData = v.Record
		rec.Message = ""
	} else {
		rec.TransformedData = nil
		rec.Message = "Record failed validation."
		next = state.RecordValidationFailed
	}
	if err := s.transition(ctx, rec, next); err != nil {
		return err
	}

	_, err = s.RecomputeTaskStatus(ctx, t.ID)
	return err
}

// runRecords queues the import of every validated record of a task.
func (s *Service) runRecords(ctx context.Context, taskID string) error {
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return err
	}
	ids, err := s.tasks.RecordIDs(ctx, taskID, state.RecordValidated)
	if err != nil {
		return fmt.Errorf("listing validated records: %w", err)
	}
	for _, id := range ids {
		if err := s.dispatch(ctx, Job{Type: JobRunRecord, TaskID: taskID, RecordID: id}); err != nil {
			return err
		}
	}

	s.logger.Info().Str("task_id", taskID).Int("records", len(ids)).Msg("import started")
	return s.dispatch(ctx, Job{Type: JobFinalize, TaskID: taskID})
}

// runRecord imports one record. Records not in status validated are left
// alone.
func (s *Service) runRecord(ctx context.Context, recordID string, logger zerolog.Logger) error {
	rec, err := s.tasks.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec.Status != state.RecordValidated {
		logger.Debug().Str("status", string(rec.Status)).Msg("record is not ready for import")
		return nil
	}
	t, err := s.tasks.GetTask(ctx, rec.TaskID)
	if err != nil {
		return err
	}
	rt, ok := s.types[t.RecordType]
	if !ok {
		return fmt.Errorf("%w: %s", recordtype.ErrUnknownRecordType, t.RecordType)
	}

	if err := s.transition(ctx, rec, state.RecordImporting); err != nil {
		return err
	}

	res := rt.Run(ctx, recordtype.RunInput{
		Mode:             t.Mode,
		Options:          t.Options,
		Record:           rec.TransformedData,
		Communities:      rec.CommunityUUIDs,
		ValidatedFiles:   rec.ValidatedRecordFiles,
		ExistingRecordID: rec.ExistingRecordID,
		BucketID:         t.BucketID,
	})

	next := state.RecordSuccess
	if res.OK() {
		if res.RecordID != rec.ExistingRecordID {
			rec.GeneratedRecordID = res.RecordID
		}
		rec.Errors = nil
		rec.Message = ""
		if res.Draft {
			rec.Message = "Record left as draft."
		}
	} else {
		next = state.RecordImportFailed
		rec.Errors = res.Errors
		rec.Message = "Record import failed."
		s.reportUnexpected(ctx, t.ID, rec.ID, res.Errors)
	}
	if err := s.transition(ctx, rec, next); err != nil {
		return err
	}

	_, err = s.RecomputeTaskStatus(ctx, t.ID)
	return err
}

func (s *Service) transition(ctx context.Context, rec *task.ImportRecord, to state.RecordState) error {
	from := rec.Status
	rec.Status = to
	rec.UpdatedAt = time.Now()
	if err := s.tasks.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("updating record: %w", err)
	}

	s.logger.Info().
		Str("task_id", rec.TaskID).
		Str("record_id", rec.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("record status changed")
	return nil
}

func (s *Service) reportUnexpected(ctx context.Context, taskID, recordID string, errs importerr.List) {
	for _, e := range errs {
		if e.Type != importerr.TypeUnexpected {
			continue
		}
		s.logger.Error().
			Str("task_id", taskID).
			Str("record_id", recordID).
			Str("trace", e.Msg).
			Msg("unexpected import error")
		s.reporter.CaptureUnexpected(ctx, e.Msg, map[string]string{
			"task_id":   taskID,
			"record_id": recordID,
		})
	}
}
