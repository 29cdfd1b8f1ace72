package task

import (
	"context"

	"github.com/bulkimport/bulkimport/internal/state"
)

// ListOptions contains options for listing tasks or records.
type ListOptions struct {
	Limit  int
	Cursor string
}

// TaskListResult contains the results of listing tasks.
type TaskListResult struct {
	Items      []*ImportTask
	NextCursor string
}

// RecordListOptions filters a record listing.
type RecordListOptions struct {
	ListOptions
	Statuses []state.RecordState
}

// RecordListResult contains the results of listing records.
type RecordListResult struct {
	Items      []*ImportRecord
	NextCursor string
}

// Repository defines the interface for import task persistence.
type Repository interface {
	// CreateTask stores a new task.
	CreateTask(ctx context.Context, t *ImportTask) error

	// GetTask retrieves a task. Returns ErrTaskNotFound if it doesn't exist.
	GetTask(ctx context.Context, id string) (*ImportTask, error)

	// UpdateTask overwrites a task.
	UpdateTask(ctx context.Context, t *ImportTask) error

	// ListTasks lists tasks, newest first.
	ListTasks(ctx context.Context, opts ListOptions) (*TaskListResult, error)

	// PutSourceFile attaches the raw source file to a task, replacing any
	// previous one.
	PutSourceFile(ctx context.Context, taskID string, f *SourceFile) error

	// GetSourceFile returns the raw source file of a task including its data.
	GetSourceFile(ctx context.Context, taskID string) (*SourceFile, error)

	// CreateRecord stores a new record.
	CreateRecord(ctx context.Context, r *ImportRecord) error

	// GetRecord retrieves a record. Returns ErrRecordNotFound if it doesn't exist.
	GetRecord(ctx context.Context, id string) (*ImportRecord, error)

	// UpdateRecord overwrites a record.
	UpdateRecord(ctx context.Context, r *ImportRecord) error

	// ListRecords lists the records of a task in creation order.
	ListRecords(ctx context.Context, taskID string, opts RecordListOptions) (*RecordListResult, error)

	// RecordIDs returns the ids of a task's records in the given states, or
	// all of them when no state is given, in creation order.
	RecordIDs(ctx context.Context, taskID string, statuses ...state.RecordState) ([]string, error)

	// DeleteRecords removes every record of a task.
	DeleteRecords(ctx context.Context, taskID string) error

	// StatusCounts returns per-state record counts of a task, including
	// the total.
	StatusCounts(ctx context.Context, taskID string) (state.Counts, error)
}
