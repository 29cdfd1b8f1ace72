package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/api/middleware"
	"github.com/bulkimport/bulkimport/internal/api/models"
	"github.com/bulkimport/bulkimport/internal/api/response"
	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/serializer"
	"github.com/bulkimport/bulkimport/internal/state"
	"github.com/bulkimport/bulkimport/internal/task"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200

	// DefaultMaxSourceFileBytes bounds source file uploads.
	DefaultMaxSourceFileBytes = 32 << 20
)

// TaskService is the import surface behind the task endpoints.
type TaskService interface {
	CreateTask(ctx context.Context, in importer.CreateTaskInput) (*task.ImportTask, error)
	AttachSourceFile(ctx context.Context, taskID, name string, data []byte) (*task.SourceFile, error)
	BeginValidation(ctx context.Context, taskID string) error
	BeginImport(ctx context.Context, taskID string) error
	RunOne(ctx context.Context, taskID, recordID string) error
	RecomputeTaskStatus(ctx context.Context, taskID string) (*task.ImportTask, error)
	GetTask(ctx context.Context, taskID string) (*task.ImportTask, error)
	ListTasks(ctx context.Context, opts task.ListOptions) (*task.TaskListResult, error)
	ListRecords(ctx context.Context, taskID string, opts task.RecordListOptions) (*task.RecordListResult, error)
	GetRecord(ctx context.Context, taskID, recordID string) (*task.ImportRecord, error)
	UpdateOptions(ctx context.Context, taskID string, opts recordtype.Options) (*task.ImportTask, error)
	UploadTaskFile(ctx context.Context, taskID, key string, r io.Reader) (*repository.Object, error)
	ListTaskFiles(ctx context.Context, taskID string) ([]repository.Object, error)
	RecordTypeConfig(name string) (recordtype.Type, error)
}

// TaskHandlerConfig holds configuration for the task handler.
type TaskHandlerConfig struct {
	Service TaskService
	// MaxSourceFileBytes bounds the size of uploaded source files.
	// Default: 32 MiB
	MaxSourceFileBytes int64
	Logger             zerolog.Logger
}

// TaskHandler handles import task endpoints.
type TaskHandler struct {
	svc       TaskService
	maxUpload int64
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(cfg TaskHandlerConfig) *TaskHandler {
	maxUpload := cfg.MaxSourceFileBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxSourceFileBytes
	}
	return &TaskHandler{
		svc:       cfg.Service,
		maxUpload: maxUpload,
		validate:  newValidator(),
		logger:    cfg.Logger,
	}
}

// CreateTask handles POST /v1/tasks - create an import task.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var input models.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(input); err != nil {
		response.BadRequest(w, r, "invalid task", fieldErrors(err))
		return
	}

	in := importer.CreateTaskInput{
		Title:       input.Title,
		Description: input.Description,
		Mode:        record.Mode(input.Mode),
		RecordType:  input.RecordType,
		Serializer:  input.Serializer,
		BucketID:    input.BucketID,
		StartedBy:   GetOperator(r.Context()),
	}
	if in.Serializer == "" {
		in.Serializer = serializer.CSVName
	}
	if input.Options != nil {
		in.Options = &recordtype.Options{
			DOIMinting: input.Options.DOIMinting,
			Publish:    input.Options.Publish,
		}
	}

	t, err := h.svc.CreateTask(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, r, taskLocation(t.ID), models.NewTask(t))
}

// ListTasks handles GET /v1/tasks - list tasks, newest first.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ListTasks(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page := models.PagedTasks{
		Items: make([]models.Task, 0, len(result.Items)),
		Meta:  pageMeta(opts.Limit, result.NextCursor),
	}
	for _, t := range result.Items {
		page.Items = append(page.Items, models.NewTask(t))
	}
	response.JSON(w, r, http.StatusOK, page)
}

// GetTask handles GET /v1/tasks/{taskId} - get a task.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewTask(t))
}

// UploadSourceFile handles PUT /v1/tasks/{taskId}/source-file - attach the
// source file of a task. The body is either a multipart form with a "file"
// part or the raw file, named by the "name" query parameter.
func (h *TaskHandler) UploadSourceFile(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	name, data, err := h.readSourceFile(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PayloadTooLarge(w, r, fmt.Sprintf("source file exceeds %d bytes", h.maxUpload))
			return
		}
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	f, err := h.svc.AttachSourceFile(r.Context(), taskID, name, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewSourceFile(f))
}

func (h *TaskHandler) readSourceFile(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			name = "source"
		}
		data, err := io.ReadAll(r.Body)
		return path.Base(name), data, err
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New(`multipart body has no "file" part`)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	return path.Base(header.Filename), data, err
}

// UpdateOptions handles PUT /v1/tasks/{taskId}/options - replace the import
// options of a task that has not started importing.
func (h *TaskHandler) UpdateOptions(w http.ResponseWriter, r *http.Request) {
	var input models.TaskOptions
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	t, err := h.svc.UpdateOptions(r.Context(), chi.URLParam(r, "taskId"), recordtype.Options{
		DOIMinting: input.DOIMinting,
		Publish:    input.Publish,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewTask(t))
}

// UploadTaskFile handles PUT /v1/tasks/{taskId}/files/* - store the raw body
// as an ancillary file of the task. The rest of the path is the file key.
func (h *TaskHandler) UploadTaskFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	obj, err := h.svc.UploadTaskFile(r.Context(), chi.URLParam(r, "taskId"), chi.URLParam(r, "*"), r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PayloadTooLarge(w, r, fmt.Sprintf("task file exceeds %d bytes", h.maxUpload))
			return
		}
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.TaskFile{Key: obj.Key, Size: obj.Size})
}

// ListTaskFiles handles GET /v1/tasks/{taskId}/files - list the ancillary
// files of a task.
func (h *TaskHandler) ListTaskFiles(w http.ResponseWriter, r *http.Request) {
	objects, err := h.svc.ListTaskFiles(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewTaskFiles(objects))
}

// RecordTypeConfig handles GET /v1/config/{recordType} - describe a record
// type.
func (h *TaskHandler) RecordTypeConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "recordType")
	rt, err := h.svc.RecordTypeConfig(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewRecordTypeConfig(name, rt))
}

// BeginValidation handles POST /v1/tasks/{taskId}/validation - queue loading
// and validation of the source file.
func (h *TaskHandler) BeginValidation(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, h.svc.BeginValidation)
}

// BeginImport handles POST /v1/tasks/{taskId}/import - queue the import of
// every validated record.
func (h *TaskHandler) BeginImport(w http.ResponseWriter, r *http.Request) {
	h.accept(w, r, h.svc.BeginImport)
}

// accept runs a queuing action and answers 202 with the current task.
func (h *TaskHandler) accept(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	taskID := chi.URLParam(r, "taskId")
	if err := action(r.Context(), taskID); err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.svc.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Accepted(w, r, taskLocation(taskID), models.NewTask(t))
}

// RecomputeStatus handles POST /v1/tasks/{taskId}/recompute - derive the
// task status from its records.
func (h *TaskHandler) RecomputeStatus(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.RecomputeTaskStatus(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewTask(t))
}

// ListRecords handles GET /v1/tasks/{taskId}/records - list the records of
// a task, optionally filtered by one or more "status" parameters.
func (h *TaskHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	opts, ok := listOptions(w, r)
	if !ok {
		return
	}

	var statuses []state.RecordState
	for _, raw := range r.URL.Query()["status"] {
		s := state.RecordState(raw)
		if !s.Valid() {
			response.BadRequest(w, r, "invalid record status filter", []models.FieldError{
				{Field: "status", Message: fmt.Sprintf("unknown record status %q", raw), Code: "oneof"},
			})
			return
		}
		statuses = append(statuses, s)
	}

	result, err := h.svc.ListRecords(r.Context(), chi.URLParam(r, "taskId"), task.RecordListOptions{
		ListOptions: opts,
		Statuses:    statuses,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page := models.PagedRecords{
		Items: make([]models.Record, 0, len(result.Items)),
		Meta:  pageMeta(opts.Limit, result.NextCursor),
	}
	for _, rec := range result.Items {
		page.Items = append(page.Items, models.NewRecord(rec))
	}
	response.JSON(w, r, http.StatusOK, page)
}

// GetRecord handles GET /v1/tasks/{taskId}/records/{recordId} - get a record.
func (h *TaskHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRecord(r.Context(), chi.URLParam(r, "taskId"), chi.URLParam(r, "recordId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewRecord(rec))
}

// RunRecord handles POST /v1/tasks/{taskId}/records/{recordId}/run - queue
// the import of one validated record.
func (h *TaskHandler) RunRecord(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	recordID := chi.URLParam(r, "recordId")
	if err := h.svc.RunOne(r.Context(), taskID, recordID); err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.svc.GetRecord(r.Context(), taskID, recordID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Accepted(w, r, taskLocation(taskID)+"/records/"+recordID, models.NewRecord(rec))
}

// writeError answers with the problem for err, logging errors outside the
// service contract.
func (h *TaskHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if response.ImportError(w, r, err) {
		return
	}
	h.logger.Error().
		Err(err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("task request failed")
	response.InternalError(w, r, "an unexpected error occurred")
}

// listOptions parses the "limit" and "cursor" query parameters. It writes a
// 400 response and returns false when they are invalid.
func listOptions(w http.ResponseWriter, r *http.Request) (task.ListOptions, bool) {
	opts := task.ListOptions{Limit: defaultPageLimit, Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageLimit {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxPageLimit), Code: "range"},
			})
			return task.ListOptions{}, false
		}
		opts.Limit = n
	}
	return opts, true
}

func pageMeta(limit int, next string) models.PagedResponseMeta {
	meta := models.PagedResponseMeta{Limit: limit}
	if next != "" {
		meta.NextCursor = &next
	}
	return meta
}

func taskLocation(taskID string) string {
	return "/v1/tasks/" + taskID
}
