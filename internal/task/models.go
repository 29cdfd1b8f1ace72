// Package task persists import tasks, their per-row import records, and the
// raw source file attached to each task.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bulkimport/bulkimport/internal/grouping"
	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/resolve"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/state"
)

// Repository errors.
var (
	ErrTaskNotFound       = errors.New("import task not found")
	ErrRecordNotFound     = errors.New("import record not found")
	ErrSourceFileNotFound = errors.New("source file not found")
)

// SourceFile is the raw file uploaded for a task.
type SourceFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// ImportTask is one bulk import job.
type ImportTask struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Mode          record.Mode        `json:"mode"`
	RecordType    string             `json:"record_type"`
	Serializer    string             `json:"serializer"`
	Options       recordtype.Options `json:"options"`
	Status        state.TaskState    `json:"status"`
	RecordsStatus state.Counts       `json:"records_status"`
	BucketID      string             `json:"bucket_id,omitempty"`
	SourceFile    *SourceFile        `json:"source_file,omitempty"`
	StartedBy     string             `json:"started_by,omitempty"`
	StartedAt     *time.Time         `json:"start_time,omitempty"`
	CompletedAt   *time.Time         `json:"end_time,omitempty"`
	CreatedAt     time.Time          `json:"created"`
	UpdatedAt     time.Time          `json:"updated"`
}

// ImportRecord tracks one source row through validation and import.
type ImportRecord struct {
	ID                   string                  `json:"id"`
	TaskID               string                  `json:"task_id"`
	Status               state.RecordState       `json:"status"`
	Message              string                  `json:"message,omitempty"`
	SrcData              grouping.Row            `json:"src_data"`
	SerializerData       *serializer.Data        `json:"serializer_data,omitempty"`
	TransformedData      *record.Record          `json:"transformed_data,omitempty"`
	CommunityUUIDs       resolve.CommunityUUIDs  `json:"community_uuids"`
	RecordFiles          []string                `json:"record_files,omitempty"`
	ValidatedRecordFiles []resolve.ValidatedFile `json:"validated_record_files,omitempty"`
	ExistingRecordID     string                  `json:"existing_record_id,omitempty"`
	GeneratedRecordID    string                  `json:"generated_record_id,omitempty"`
	Errors               importerr.List          `json:"errors,omitempty"`
	CreatedAt            time.Time               `json:"created"`
	UpdatedAt            time.Time               `json:"updated"`
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "tsk_" + uuid.New().String()
}

// NewRecordID returns a fresh record identifier.
func NewRecordID() string {
	return "rec_" + uuid.New().String()
}
