// Package rdm implements the research data record type: validation of a
// transformed row against the repository platform, and the import that
// creates, versions, revises or deletes the record.
package rdm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/resolve"
)

// FileResolver validates file references.
type FileResolver interface {
	Resolve(ctx context.Context, refs []string, bucketID string) ([]resolve.ValidatedFile, importerr.List)
}

// CommunityResolver resolves community slugs.
type CommunityResolver interface {
	Resolve(ctx context.Context, slugs []string, required bool) (resolve.CommunityUUIDs, importerr.List)
}

// SchemaValidator checks a record payload against the record schema.
type SchemaValidator interface {
	Validate(rec *record.Record) importerr.List
}

// FileStreamer opens validated files for upload.
type FileStreamer interface {
	Open(ctx context.Context, f resolve.ValidatedFile, bucketID string) (io.ReadCloser, error)
}

// Config wires the record type to the repository platform.
type Config struct {
	Records     repository.RecordService
	Files       repository.FileService
	Reviews     repository.ReviewService
	UnitOfWork  repository.UnitOfWork
	FileChecks  FileResolver
	Communities CommunityResolver
	Schema      SchemaValidator
	Streamer    FileStreamer
	// DeleteNote is the removal reason recorded on tombstones.
	DeleteNote string
	Logger     zerolog.Logger
}

// RecordType is the research data record type.
type RecordType struct {
	cfg Config
}

var _ recordtype.RecordType = (*RecordType)(nil)

// New creates the record type.
func New(cfg Config) *RecordType {
	if cfg.DeleteNote == "" {
		cfg.DeleteNote = "Removed by bulk import."
	}
	return &RecordType{cfg: cfg}
}

// Validate checks a transformed row. Every validation source contributes
// its errors; the record is valid only if none of them reported one.
func (t *RecordType) Validate(ctx context.Context, in recordtype.ValidateInput) recordtype.Validation {
	var out recordtype.Validation
	if in.Data == nil {
		out.Errors.Add(importerr.TypeSerializedNotProvided, "", "Serialized record data was not provided.")
		return out
	}

	side, rec := in.Data.Split()
	out.Files = side.Files
	out.Communities = resolve.CommunityUUIDs{IDs: []string{}}

	if side.ID != "" {
		if problem := t.existingRecordProblem(ctx, side.ID); problem != "" {
			out.Errors.Add(importerr.TypeExistingRecordNotFound, "record", problem)
		} else {
			out.ExistingRecordID = side.ID
		}
	}

	if in.Mode == record.ModeDelete {
		if side.ID == "" {
			out.Errors.Add(importerr.TypeMissing, "id", "An 'id' is required to delete a record.")
		}
		return out
	}

	files, fileErrs := t.cfg.FileChecks.Resolve(ctx, side.Files, in.BucketID)
	out.ValidatedFiles = files
	out.Errors.Extend(fileErrs)

	communities, communityErrs := t.cfg.Communities.Resolve(ctx, side.Communities, in.CommunityRequired)
	out.Communities = communities
	out.Errors.Extend(communityErrs)

	out.Errors.Extend(t.cfg.Schema.Validate(&rec))
	out.Record = &rec

	if !out.OK() {
		t.cfg.Logger.Debug().
			Str("existing_record_id", out.ExistingRecordID).
			Strs("error_types", out.Errors.Types()).
			Msg("record validation failed")
	}
	return out
}

// existingRecordProblem describes why id cannot be updated, or returns ""
// when the record or its draft exists.
func (t *RecordType) existingRecordProblem(ctx context.Context, id string) string {
	_, err := t.cfg.Records.Read(ctx, id)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, repository.ErrDeleted):
		return fmt.Sprintf("Record '%s' has been deleted.", id)
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Sprintf("Record '%s' could not be read: %v", id, err)
	}
	if _, err := t.cfg.Records.ReadDraft(ctx, id); err == nil {
		return ""
	}
	return fmt.Sprintf("Record '%s' not found.", id)
}
