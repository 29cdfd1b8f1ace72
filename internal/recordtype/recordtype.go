// Package recordtype defines the contract every importable record type
// implements, and the YAML registry configuring the available types.
package recordtype

import (
	"context"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/resolve"
	"github.com/bulkimport/bulkimport/internal/serializer"
)

// ValidateInput is what a record type validates.
type ValidateInput struct {
	Data              *serializer.Data
	Mode              record.Mode
	BucketID          string
	CommunityRequired bool
}

// Validation is the outcome of validating one record.
type Validation struct {
	Record           *record.Record
	Communities      resolve.CommunityUUIDs
	Files            []string
	ValidatedFiles   []resolve.ValidatedFile
	ExistingRecordID string
	Errors           importerr.List
}

// OK reports whether the record may be imported.
func (v Validation) OK() bool {
	return v.Errors.Empty()
}

// RunInput is what a record type imports.
type RunInput struct {
	Mode             record.Mode
	Options          Options
	Record           *record.Record
	Communities      resolve.CommunityUUIDs
	ValidatedFiles   []resolve.ValidatedFile
	ExistingRecordID string
	BucketID         string
}

// RunResult is the outcome of importing one record. RecordID is empty when
// the import failed.
type RunResult struct {
	RecordID string
	Draft    bool
	Errors   importerr.List
}

// OK reports whether the import succeeded.
func (r RunResult) OK() bool {
	return r.Errors.Empty()
}

// RecordType validates and imports records of one family.
type RecordType interface {
	Validate(ctx context.Context, in ValidateInput) Validation
	Run(ctx context.Context, in RunInput) RunResult
}
