package models

import (
	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/resolve"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/task"
)

// TaskOptions overrides the record type defaults of a task.
type TaskOptions struct {
	DOIMinting bool `json:"doiMinting"`
	Publish    bool `json:"publish"`
}

// CreateTaskRequest is the body of POST /v1/tasks.
type CreateTaskRequest struct {
	Title       string       `json:"title" validate:"required,max=250"`
	Description string       `json:"description,omitempty" validate:"max=2000"`
	Mode        string       `json:"mode,omitempty" validate:"omitempty,oneof=import delete"`
	RecordType  string       `json:"recordType" validate:"required"`
	Serializer  string       `json:"serializer,omitempty"`
	Options     *TaskOptions `json:"options,omitempty"`
	BucketID    string       `json:"bucketId,omitempty"`
}

// SourceFile describes the raw file attached to a task.
type SourceFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Task is the API view of an import task.
type Task struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Mode          string         `json:"mode"`
	RecordType    string         `json:"recordType"`
	Serializer    string         `json:"serializer"`
	Options       TaskOptions    `json:"options"`
	Status        string         `json:"status"`
	RecordsStatus map[string]int `json:"recordsStatus"`
	BucketID      string         `json:"bucketId,omitempty"`
	SourceFile    *SourceFile    `json:"sourceFile,omitempty"`
	StartedBy     string         `json:"startedBy,omitempty"`
	StartedAt     *Timestamp     `json:"startedAt,omitempty"`
	CompletedAt   *Timestamp     `json:"completedAt,omitempty"`
	CreatedAt     Timestamp      `json:"createdAt"`
	UpdatedAt     Timestamp      `json:"updatedAt"`
}

// PagedTasks is a page of tasks.
type PagedTasks struct {
	Items []Task            `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// Record is the API view of an import record.
type Record struct {
	ID                   string                  `json:"id"`
	TaskID               string                  `json:"taskId"`
	Status               string                  `json:"status"`
	Message              string                  `json:"message,omitempty"`
	SrcData              map[string]string       `json:"srcData"`
	SerializerData       *serializer.Data        `json:"serializerData,omitempty"`
	TransformedData      *record.Record          `json:"transformedData,omitempty"`
	CommunityUUIDs       resolve.CommunityUUIDs  `json:"communityUuids"`
	RecordFiles          []string                `json:"recordFiles,omitempty"`
	ValidatedRecordFiles []resolve.ValidatedFile `json:"validatedRecordFiles,omitempty"`
	ExistingRecordID     string                  `json:"existingRecordId,omitempty"`
	GeneratedRecordID    string                  `json:"generatedRecordId,omitempty"`
	Errors               []importerr.Error       `json:"errors"`
	CreatedAt            Timestamp               `json:"createdAt"`
	UpdatedAt            Timestamp               `json:"updatedAt"`
}

// PagedRecords is a page of records.
type PagedRecords struct {
	Items []Record          `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// NewTask converts a stored task.
func NewTask(t *task.ImportTask) Task {
	out := Task{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Mode:          string(t.Mode),
		RecordType:    t.RecordType,
		Serializer:    t.Serializer,
		Options:       TaskOptions{DOIMinting: t.Options.DOIMinting, Publish: t.Options.Publish},
		Status:        string(t.Status),
		RecordsStatus: map[string]int(t.RecordsStatus),
		BucketID:      t.BucketID,
		StartedBy:     t.StartedBy,
		StartedAt:     timestampPtr(t.StartedAt),
		CompletedAt:   timestampPtr(t.CompletedAt),
		CreatedAt:     Timestamp(t.CreatedAt),
		UpdatedAt:     Timestamp(t.UpdatedAt),
	}
	if out.RecordsStatus == nil {
		out.RecordsStatus = map[string]int{}
	}
	if t.SourceFile != nil {
		out.SourceFile = NewSourceFile(t.SourceFile)
	}
	return out
}

// NewSourceFile converts a stored source file, leaving out its data.
func NewSourceFile(f *task.SourceFile) *SourceFile {
	return &SourceFile{Name: f.Name, ContentType: f.ContentType, Size: f.Size}
}

// NewRecord converts a stored record.
func NewRecord(r *task.ImportRecord) Record {
	out := Record{
		ID:                   r.ID,
		TaskID:               r.TaskID,
		Status:               string(r.Status),
		Message:              r.Message,
		SrcData:              map[string]string(r.SrcData),
		SerializerData:       r.SerializerData,
		TransformedData:      r.TransformedData,
		CommunityUUIDs:       r.CommunityUUIDs,
		RecordFiles:          r.RecordFiles,
		ValidatedRecordFiles: r.ValidatedRecordFiles,
		ExistingRecordID:     r.ExistingRecordID,
		GeneratedRecordID:    r.GeneratedRecordID,
		Errors:               r.Errors,
		CreatedAt:            Timestamp(r.CreatedAt),
		UpdatedAt:            Timestamp(r.UpdatedAt),
	}
	if out.Errors == nil {
		out.Errors = []importerr.Error{}
	}
	return out
}

// TaskFile is an ancillary file in the bucket of a task.
type TaskFile struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// TaskFiles lists the ancillary files of a task.
type TaskFiles struct {
	Items []TaskFile `json:"items"`
}

// NewTaskFiles converts bucket objects to their API view.
func NewTaskFiles(objects []repository.Object) TaskFiles {
	out := TaskFiles{Items: make([]TaskFile, 0, len(objects))}
	for _, o := range objects {
		out.Items = append(out.Items, TaskFile{Key: o.Key, Size: o.Size})
	}
	return out
}

// CustomField binds a custom field of a record type to its transformer.
type CustomField struct {
	Field       string `json:"field"`
	Transformer string `json:"transformer,omitempty"`
	Schema      string `json:"schema,omitempty"`
}

// RecordTypeConfig is the API view of a record type.
type RecordTypeConfig struct {
	Name              string        `json:"name"`
	Serializers       []string      `json:"serializers"`
	Options           TaskOptions   `json:"options"`
	CommunityRequired bool          `json:"communityRequired"`
	DeleteNote        string        `json:"deleteNote,omitempty"`
	CustomFields      []CustomField `json:"customFields"`
}

// NewRecordTypeConfig converts a record type to its API view.
func NewRecordTypeConfig(name string, rt recordtype.Type) RecordTypeConfig {
	out := RecordTypeConfig{
		Name:              name,
		Serializers:       append([]string{}, rt.Serializers...),
		Options:           TaskOptions{DOIMinting: rt.Options.DOIMinting, Publish: rt.Options.Publish},
		CommunityRequired: rt.CommunityRequired,
		DeleteNote:        rt.DeleteNote,
		CustomFields:      make([]CustomField, 0, len(rt.CustomFields)),
	}
	for _, cf := range rt.CustomFields {
		out.CustomFields = append(out.CustomFields, CustomField{Field: cf.Field, Transformer: cf.Transformer, Schema: cf.Schema})
	}
	return out
}
