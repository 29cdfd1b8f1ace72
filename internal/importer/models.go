// Package importer drives import tasks through loading, validation and
// import. Every step is a Job handed to a Dispatcher; handlers re-read the
// persisted task and record state instead of trusting the job payload.
package importer

import (
	"context"
	"errors"

	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
)

// Service errors.
var (
	ErrInvalidTask     = errors.New("invalid import task")
	ErrTaskNotReady    = errors.New("import task is not ready")
	ErrRecordNotReady  = errors.New("import record is not ready")
	ErrEmptySourceFile = errors.New("source file is empty")
	ErrTaskStarted     = errors.New("import task has started importing")
	ErrInvalidFileKey  = errors.New("invalid task file key")
	ErrNoBuckets       = errors.New("task file storage is not configured")
)

// JobType identifies a unit of work.
type JobType string

// Unit of work types.
const (
	// JobLoadFile reads the source file of a task into import records.
	JobLoadFile JobType = "load_file"
	// JobValidateRecord transforms and validates one import record.
	JobValidateRecord JobType = "validate_record"
	// JobRunRecords fans out the import of every validated record of a task.
	JobRunRecords JobType = "run_records"
	// JobRunRecord imports one validated record.
	JobRunRecord JobType = "run_record"
	// JobFinalize recomputes the status of a task.
	JobFinalize JobType = "finalize"
)

// Job describes one unit of work.
type Job struct {
	Type     JobType `json:"job_type"`
	TaskID   string  `json:"task_id"`
	RecordID string  `json:"record_id,omitempty"`
}

// Dispatcher hands jobs to a worker. Dispatch returns once the job is
// queued; its outcome is never reported back.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// ErrorReporter captures unexpected import failures.
type ErrorReporter interface {
	CaptureUnexpected(ctx context.Context, msg string, tags map[string]string)
}

type nopReporter struct{}

func (nopReporter) CaptureUnexpected(context.Context, string, map[string]string) {}

// CreateTaskInput describes a new import task.
type CreateTaskInput struct {
	Title       string
	Description string
	Mode        record.Mode
	RecordType  string
	Serializer  string
	// Options override the defaults of the record type when set.
	Options   *recordtype.Options
	BucketID  string
	StartedBy string
}
