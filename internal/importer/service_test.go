package importer_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/rdm"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/resolve"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/state"
	"github.com/bulkimport/bulkimport/internal/task"
)

const bucket = "bkt-1"

const sourceCSV = "id,title,publication_date,resource_type.id,creators.type,creators.family_name,creators.given_name,filenames,publisher\n" +
	",Ocean data,2024-01-15,dataset,personal,Doe,Jane,data.csv,Acme Press\n" +
	",Sky data,2024-02,dataset,personal,Roe,Rich,,Acme Press\n" +
	",,2024-03,dataset,personal,Poe,Edgar,,Acme Press\n" +
	",Bad\"quote,2024,dataset,personal,X,Y,\n"

// queueDispatcher collects jobs until the test drains them.
type queueDispatcher struct {
	mu   sync.Mutex
	jobs []importer.Job
}

func (d *queueDispatcher) Dispatch(_ context.Context, job importer.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *queueDispatcher) pop() (importer.Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.jobs) == 0 {
		return importer.Job{}, false
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	return job, true
}

type captureReporter struct {
	messages []string
	tags     []map[string]string
}

func (r *captureReporter) CaptureUnexpected(_ context.Context, msg string, tags map[string]string) {
	r.messages = append(r.messages, msg)
	r.tags = append(r.tags, tags)
}

type harness struct {
	svc        *importer.Service
	tasks      *task.InMemoryRepository
	platform   *repository.InMemory
	dispatcher *queueDispatcher
	reporter   *captureReporter
}

func newHarness(t *testing.T, types map[string]recordtype.RecordType) *harness {
	t.Helper()
	platform := repository.NewInMemory()
	validator, err := record.NewValidator(record.ValidatorConfig{})
	require.NoError(t, err)

	if types == nil {
		types = map[string]recordtype.RecordType{
			"rdm": rdm.New(rdm.Config{
				Records:     platform,
				Files:       platform,
				Reviews:     platform,
				UnitOfWork:  platform,
				FileChecks:  resolve.NewFileResolver(resolve.FileResolverConfig{Buckets: platform, Logger: zerolog.Nop()}),
				Communities: resolve.NewCommunityResolver(platform),
				Schema:      validator,
				Streamer:    &resolve.Streamer{Buckets: platform},
				Logger:      zerolog.Nop(),
			}),
		}
	}

	h := &harness{
		tasks:      task.NewInMemoryRepository(),
		platform:   platform,
		dispatcher: &queueDispatcher{},
		reporter:   &captureReporter{},
	}
	h.svc = importer.NewService(importer.ServiceConfig{
		Tasks:       h.tasks,
		RecordTypes: recordtype.DefaultConfig(),
		Types:       types,
		Serializers: serializer.NewRegistry(serializer.NewCSV(serializer.CSVConfig{Vocabulary: platform, Logger: zerolog.Nop()})),
		Dispatcher:  h.dispatcher,
		Buckets:     platform,
		Reporter:    h.reporter,
		Logger:      zerolog.Nop(),
	})
	return h
}

// drain handles queued jobs until none are left.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for {
		job, ok := h.dispatcher.pop()
		if !ok {
			return
		}
		require.NoError(t, h.svc.Handle(context.Background(), job), "job %s", job.Type)
	}
}

func (h *harness) newTask(t *testing.T, mode record.Mode, src string) *task.ImportTask {
	t.Helper()
	ctx := context.Background()
	tsk, err := h.svc.CreateTask(ctx, importer.CreateTaskInput{
		Title:      "Batch",
		Mode:       mode,
		RecordType: "rdm",
		Serializer: serializer.CSVName,
		BucketID:   bucket,
	})
	require.NoError(t, err)
	_, err = h.svc.AttachSourceFile(ctx, tsk.ID, "batch.csv", []byte(src))
	require.NoError(t, err)
	return tsk
}

func (h *harness) statuses(t *testing.T, taskID string) map[state.RecordState]int {
	t.Helper()
	res, err := h.tasks.ListRecords(context.Background(), taskID, task.RecordListOptions{ListOptions: task.ListOptions{Limit: 100}})
	require.NoError(t, err)
	out := map[state.RecordState]int{}
	for _, r := range res.Items {
		out[r.Status]++
	}
	return out
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tsk, err := h.svc.CreateTask(ctx, importer.CreateTaskInput{Title: "Batch", RecordType: "rdm", Serializer: "csv"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tsk.ID, "tsk_"))
	assert.Equal(t, record.ModeImport, tsk.Mode)
	assert.Equal(t, state.TaskCreated, tsk.Status)
	assert.Equal(t, recordtype.Options{Publish: true}, tsk.Options)
	assert.Equal(t, 0, tsk.RecordsStatus.Total())

	custom := &recordtype.Options{DOIMinting: true}
	tsk, err = h.svc.CreateTask(ctx, importer.CreateTaskInput{Title: "Batch", RecordType: "rdm", Serializer: "csv", Options: custom})
	require.NoError(t, err)
	assert.Equal(t, *custom, tsk.Options)

	tests := []struct {
		name string
		in   importer.CreateTaskInput
	}{
		{"missing title", importer.CreateTaskInput{RecordType: "rdm", Serializer: "csv"}},
		{"unknown record type", importer.CreateTaskInput{Title: "x", RecordType: "thesis", Serializer: "csv"}},
		{"unsupported serializer", importer.CreateTaskInput{Title: "x", RecordType: "rdm", Serializer: "marcxml"}},
		{"unknown mode", importer.CreateTaskInput{Title: "x", RecordType: "rdm", Serializer: "csv", Mode: "merge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateTask(ctx, tt.in)
			assert.ErrorIs(t, err, importer.ErrInvalidTask)
		})
	}
}

func TestAttachSourceFile(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	tsk := h.newTask(t, record.ModeImport, sourceCSV)

	f, err := h.tasks.GetSourceFile(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, "batch.csv", f.Name)
	assert.Equal(t, int64(len(sourceCSV)), f.Size)
	assert.True(t, strings.HasPrefix(f.ContentType, "text/"), f.ContentType)

	_, err = h.svc.AttachSourceFile(ctx, tsk.ID, "empty.csv", nil)
	assert.ErrorIs(t, err, importer.ErrEmptySourceFile)

	_, err = h.svc.AttachSourceFile(ctx, "tsk_missing", "a.csv", []byte("title\n"))
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestValidationAndImport(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.platform.PutObject(bucket, "data.csv", []byte("1,2\n"))
	tsk := h.newTask(t, record.ModeImport, sourceCSV)

	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)

	got, err := h.svc.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskValidatedWithFailure, got.Status)
	assert.Equal(t, 4, got.RecordsStatus.Total())
	assert.NotNil(t, got.StartedAt)
	assert.Equal(t, map[state.RecordState]int{
		state.RecordValidated:                  2,
		state.RecordValidationFailed:           1,
		state.RecordSerializerValidationFailed: 1,
	}, h.statuses(t, tsk.ID))

	failed, err := h.tasks.ListRecords(ctx, tsk.ID, task.RecordListOptions{Statuses: []state.RecordState{state.RecordSerializerValidationFailed}})
	require.NoError(t, err)
	require.Len(t, failed.Items, 1)
	assert.Equal(t, importerr.TypeCSVParse, failed.Items[0].Errors[0].Type)

	require.NoError(t, h.svc.BeginImport(ctx, tsk.ID))
	h.drain(t)

	got, err = h.svc.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskImportedWithFailure, got.Status)
	assert.Equal(t, 2, got.RecordsStatus.Get(state.RecordSuccess))
	assert.NotNil(t, got.CompletedAt)

	imported, err := h.tasks.ListRecords(ctx, tsk.ID, task.RecordListOptions{Statuses: []state.RecordState{state.RecordSuccess}})
	require.NoError(t, err)
	require.Len(t, imported.Items, 2)
	for _, r := range imported.Items {
		assert.NotEmpty(t, r.GeneratedRecordID)
		_, err := h.platform.Read(ctx, r.GeneratedRecordID)
		assert.NoError(t, err)
	}
	assert.Len(t, h.platform.SearchPublished("Ocean data"), 1)
	assert.Empty(t, h.reporter.messages)
}

func TestBeginValidation_DiscardsPreviousRecords(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.platform.PutObject(bucket, "data.csv", []byte("1,2\n"))
	tsk := h.newTask(t, record.ModeImport, sourceCSV)

	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)
	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)

	counts, err := h.tasks.StatusCounts(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Total())
}

func TestBeginValidation_MissingHeader(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	tsk := h.newTask(t, record.ModeImport, "\n")

	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)

	got, err := h.svc.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCreated, got.Status)
	assert.Equal(t, 0, got.RecordsStatus.Total())
}

func TestBeginImport_NotReady(t *testing.T) {
	h := newHarness(t, nil)
	tsk := h.newTask(t, record.ModeImport, sourceCSV)

	err := h.svc.BeginImport(context.Background(), tsk.ID)
	assert.ErrorIs(t, err, importer.ErrTaskNotReady)
}

func TestRunOne(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.platform.PutObject(bucket, "data.csv", []byte("1,2\n"))
	tsk := h.newTask(t, record.ModeImport, sourceCSV)
	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)

	validated, err := h.tasks.RecordIDs(ctx, tsk.ID, state.RecordValidated)
	require.NoError(t, err)
	require.NotEmpty(t, validated)
	invalid, err := h.tasks.RecordIDs(ctx, tsk.ID, state.RecordValidationFailed)
	require.NoError(t, err)
	require.Len(t, invalid, 1)

	assert.ErrorIs(t, h.svc.RunOne(ctx, tsk.ID, invalid[0]), importer.ErrRecordNotReady)
	assert.ErrorIs(t, h.svc.RunOne(ctx, "tsk_other", validated[0]), task.ErrRecordNotFound)

	require.NoError(t, h.svc.RunOne(ctx, tsk.ID, validated[0]))
	h.drain(t)

	rec, err := h.svc.GetRecord(ctx, tsk.ID, validated[0])
	require.NoError(t, err)
	assert.Equal(t, state.RecordSuccess, rec.Status)

	got, err := h.svc.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskImporting, got.Status)
}

func TestDeleteTask(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	draft, err := h.platform.Create(ctx, record.Record{Metadata: record.Metadata{Title: "Old"}})
	require.NoError(t, err)
	_, err = h.platform.Publish(ctx, draft.ID)
	require.NoError(t, err)

	tsk := h.newTask(t, record.ModeDelete, "id\n"+draft.ID+"\n")
	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)
	require.NoError(t, h.svc.BeginImport(ctx, tsk.ID))
	h.drain(t)

	got, err := h.svc.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskSuccess, got.Status)

	_, err = h.platform.Read(ctx, draft.ID)
	assert.ErrorIs(t, err, repository.ErrDeleted)
}

func TestHandle_DropsJobsOfDeletedTargets(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	assert.NoError(t, h.svc.Handle(ctx, importer.Job{Type: importer.JobValidateRecord, TaskID: "tsk_x", RecordID: "rec_gone"}))
	assert.NoError(t, h.svc.Handle(ctx, importer.Job{Type: importer.JobFinalize, TaskID: "tsk_gone"}))
	assert.Error(t, h.svc.Handle(ctx, importer.Job{Type: "reindex", TaskID: "tsk_x"}))
}

// brokenType validates everything and fails every import unexpectedly.
type brokenType struct{}

func (brokenType) Validate(_ context.Context, in recordtype.ValidateInput) recordtype.Validation {
	_, rec := in.Data.Split()
	return recordtype.Validation{Record: &rec}
}

func (brokenType) Run(context.Context, recordtype.RunInput) recordtype.RunResult {
	var res recordtype.RunResult
	res.Errors.Add(importerr.TypeUnexpected, "record", "Unexpected error: boom")
	return res
}

func TestRunRecord_ReportsUnexpectedErrors(t *testing.T) {
	h := newHarness(t, map[string]recordtype.RecordType{"rdm": brokenType{}})
	ctx := context.Background()
	tsk := h.newTask(t, record.ModeImport, "title,resource_type.id\nBroken,dataset\n")

	require.NoError(t, h.svc.BeginValidation(ctx, tsk.ID))
	h.drain(t)
	require.NoError(t, h.svc.BeginImport(ctx, tsk.ID))
	h.drain(t)

	ids, err := h.tasks.RecordIDs(ctx, tsk.ID, state.RecordImportFailed)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.Len(t, h.reporter.messages, 1)
	assert.Equal(t, "Unexpected error: boom", h.reporter.messages[0])
	assert.Equal(t, ids[0], h.reporter.tags[0]["record_id"])

	got, err := h.svc.GetTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskImportedWithFailure, got.Status)
}
