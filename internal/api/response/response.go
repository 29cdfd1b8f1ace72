// Package response writes the JSON bodies and RFC 7807 problems of the
// import API.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bulkimport/bulkimport/internal/api/middleware"
	"github.com/bulkimport/bulkimport/internal/api/models"
	"github.com/bulkimport/bulkimport/internal/importer"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/task"
)

// JSON writes data with the given status and the X-Request-Id of the
// request.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, "", data)
}

// Created answers 201 with the Location of the new resource.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	write(w, r, http.StatusCreated, location, data)
}

// Accepted answers 202 for queued work. Location points at the resource to
// poll for its outcome.
func Accepted(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	write(w, r, http.StatusAccepted, location, data)
}

func write(w http.ResponseWriter, r *http.Request, status int, location string, data interface{}) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	if location != "" {
		w.Header().Set("Location", location)
	}
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func problem(w http.ResponseWriter, r *http.Request, p *models.Problem) {
	p.Instance = r.URL.Path
	p.Write(w)
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// BadRequest writes a 400 validation problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	problem(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, models.NewNotFound(traceID(r), detail))
}

// NotReady writes a 409 problem for a task or record whose state does not
// allow the requested action yet.
func NotReady(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, models.NewNotReady(traceID(r), detail))
}

// PayloadTooLarge writes a 413 problem.
func PayloadTooLarge(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, models.NewPayloadTooLarge(traceID(r), detail))
}

// InternalError writes a 500 problem. detail must not leak internals.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503 problem.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

// ImportError writes the problem matching an error of the import service.
// It returns false, writing nothing, for errors that are not part of the
// service contract; callers log those and answer InternalError.
func ImportError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, importer.ErrInvalidTask),
		errors.Is(err, importer.ErrEmptySourceFile),
		errors.Is(err, importer.ErrInvalidFileKey):
		BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, task.ErrRecordNotFound),
		errors.Is(err, recordtype.ErrUnknownRecordType):
		NotFound(w, r, err.Error())
	case errors.Is(err, task.ErrSourceFileNotFound):
		NotReady(w, r, "no source file is attached to the task")
	case errors.Is(err, importer.ErrTaskNotReady),
		errors.Is(err, importer.ErrRecordNotReady),
		errors.Is(err, importer.ErrTaskStarted):
		NotReady(w, r, err.Error())
	case errors.Is(err, importer.ErrNoBuckets):
		ServiceUnavailable(w, r, err.Error())
	default:
		return false
	}
	return true
}
