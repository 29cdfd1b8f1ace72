// Package repository defines the contracts of the host repository platform
// the importer publishes into: record drafts and versions, file uploads,
// community review requests, vocabularies, and the transactional unit of
// work every import runs inside.
package repository

import (
	"context"
	"errors"
	"io"

	"github.com/bulkimport/bulkimport/internal/record"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrDeleted  = errors.New("record has been deleted")
	ErrConflict = errors.New("conflict")
)

// Community is a curated collection records can be submitted to.
type Community struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// FileEntry is one file attached to a draft or record.
type FileEntry struct {
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	Committed bool   `json:"committed"`
}

// Draft is a record draft or a published record as returned by the
// platform.
type Draft struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parent_id"`
	Record       record.Record `json:"record"`
	VersionIndex int           `json:"version_index"`
	RevisionID   int           `json:"revision_id"`
	Published    bool          `json:"published"`
	Communities  []string      `json:"communities,omitempty"`
	Files        []FileEntry   `json:"files,omitempty"`
}

// InCommunity reports whether the draft's parent belongs to communityID.
func (d *Draft) InCommunity(communityID string) bool {
	for _, c := range d.Communities {
		if c == communityID {
			return true
		}
	}
	return false
}

// Object is an entry of an ancillary file bucket.
type Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// RecordService manages record drafts, versions and their lifecycle.
type RecordService interface {
	// Create starts a new record as a draft.
	Create(ctx context.Context, rec record.Record) (*Draft, error)
	// Read returns a published record. It fails with ErrDeleted for
	// tombstoned records and ErrNotFound for unknown ids.
	Read(ctx context.Context, id string) (*Draft, error)
	// ReadDraft returns the pending draft of a record.
	ReadDraft(ctx context.Context, id string) (*Draft, error)
	// Edit opens a draft of a published record for a new revision.
	Edit(ctx context.Context, id string) (*Draft, error)
	// NewVersion opens a draft for the next version of a published record.
	NewVersion(ctx context.Context, id string) (*Draft, error)
	// UpdateDraft replaces the payload of a draft.
	UpdateDraft(ctx context.Context, id string, rec record.Record) (*Draft, error)
	// ReserveDOI mints a DOI for a draft and returns it.
	ReserveDOI(ctx context.Context, id string) (string, error)
	// Publish publishes a draft.
	Publish(ctx context.Context, id string) (*Draft, error)
	// Delete tombstones a published record, keeping note as the reason.
	Delete(ctx context.Context, id, note string) error
}

// FileService uploads files into a draft.
type FileService interface {
	InitFiles(ctx context.Context, draftID string, keys []string) error
	SetContent(ctx context.Context, draftID, key string, r io.Reader, size int64) error
	CommitFile(ctx context.Context, draftID, key string) error
}

// ReviewService submits records to communities.
type ReviewService interface {
	// Submit creates a submission request of a never-published draft.
	Submit(ctx context.Context, draftID, communityID string) (string, error)
	// Include creates an inclusion request of a published record.
	Include(ctx context.Context, recordID, communityID string) (string, error)
	// Accept accepts a request. Accepting a submission publishes the draft.
	Accept(ctx context.Context, requestID string) error
}

// CommunityService looks communities up by slug or id.
type CommunityService interface {
	ReadCommunity(ctx context.Context, slugOrID string) (*Community, error)
}

// VocabularyService searches controlled vocabularies.
type VocabularyService interface {
	SearchSubjects(ctx context.Context, subject, scheme string) ([]record.Subject, error)
}

// BucketService holds the ancillary file bucket of an import task.
type BucketService interface {
	ListObjects(ctx context.Context, bucketID string) ([]Object, error)
	OpenObject(ctx context.Context, bucketID, key string) (io.ReadCloser, error)
	// WriteObject stores r under key, replacing any object already there.
	WriteObject(ctx context.Context, bucketID, key string, r io.Reader) (Object, error)
}

// UnitOfWork runs fn atomically. When fn fails every platform change it made
// is undone.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Platform is the full surface of the repository platform.
type Platform interface {
	RecordService
	FileService
	ReviewService
	CommunityService
	VocabularyService
	BucketService
	UnitOfWork
}
