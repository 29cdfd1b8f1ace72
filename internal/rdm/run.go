package rdm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/recordtype"
	"github.com/bulkimport/bulkimport/internal/repository"
	"github.com/bulkimport/bulkimport/internal/resolve"
)

// traceLines bounds the stack summary attached to unexpected errors.
const traceLines = 12

// Run imports one validated record inside a unit of work:
//
//   - delete mode tombstones the existing record;
//   - without an existing record a new one is created;
//   - with an existing record and new files, or new communities, a new
//     version is created;
//   - otherwise the existing record gets a new revision.
//
// An existing id that was never published names a draft, which is updated
// in place with its new files.
//
// Any failure rolls the unit of work back and is reported in the result.
func (t *RecordType) Run(ctx context.Context, in recordtype.RunInput) (res recordtype.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			res = recordtype.RunResult{}
			res.Errors.Add(importerr.TypeUnexpected, "record", unexpectedMessage(fmt.Errorf("panic: %v", r), string(debug.Stack())))
		}
	}()

	log := t.cfg.Logger.With().Str("mode", string(in.Mode)).Str("existing_record_id", in.ExistingRecordID).Logger()

	var (
		recordID string
		draft    bool
	)
	err := t.cfg.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		var err error
		switch {
		case in.Mode == record.ModeDelete:
			recordID, err = in.ExistingRecordID, t.delete(ctx, in.ExistingRecordID)
		case in.Record == nil:
			err = errors.New("no record payload to import")
		case in.ExistingRecordID == "":
			recordID, draft, err = t.create(ctx, in)
		default:
			var unpublished *repository.Draft
			if unpublished, err = t.unpublishedDraft(ctx, in.ExistingRecordID); err != nil {
				return err
			}
			if unpublished != nil {
				recordID, draft, err = t.updateDraft(ctx, unpublished, in)
				return err
			}
			var needsVersion bool
			needsVersion, err = t.needsNewVersion(ctx, in)
			if err != nil {
				return err
			}
			if needsVersion {
				recordID, draft, err = t.newVersion(ctx, in)
			} else {
				recordID, draft, err = t.revise(ctx, in)
			}
		}
		return err
	})
	if err != nil {
		log.Warn().Err(err).Msg("record import failed")
		res.Errors.Extend(failure(err))
		return res
	}

	log.Info().Str("record_id", recordID).Bool("draft", draft).Msg("record imported")
	res.RecordID = recordID
	res.Draft = draft
	return res
}

func (t *RecordType) delete(ctx context.Context, id string) error {
	if id == "" {
		return importerr.NewRunError("delete", "", errors.New("no existing record id"))
	}
	if err := t.cfg.Records.Delete(ctx, id, t.cfg.DeleteNote); err != nil {
		return importerr.NewRunError("delete", id, err)
	}
	return nil
}

func (t *RecordType) create(ctx context.Context, in recordtype.RunInput) (string, bool, error) {
	d, err := t.cfg.Records.Create(ctx, *in.Record)
	if err != nil {
		return "", false, importerr.NewRunError("create", "", err)
	}
	if err := t.mintDOI(ctx, d.ID, in); err != nil {
		return "", false, err
	}
	if err := t.attachFiles(ctx, d.ID, in.ValidatedFiles, in.BucketID); err != nil {
		return "", false, err
	}
	return t.finish(ctx, d, in, true)
}

func (t *RecordType) newVersion(ctx context.Context, in recordtype.RunInput) (string, bool, error) {
	d, err := t.cfg.Records.NewVersion(ctx, in.ExistingRecordID)
	if err != nil {
		return "", false, importerr.NewRunError("new version", in.ExistingRecordID, err)
	}
	draftID := d.ID
	if d, err = t.cfg.Records.UpdateDraft(ctx, draftID, *in.Record); err != nil {
		return "", false, importerr.NewRunError("update draft", draftID, err)
	}
	if err := t.mintDOI(ctx, d.ID, in); err != nil {
		return "", false, err
	}
	if err := t.attachFiles(ctx, d.ID, in.ValidatedFiles, in.BucketID); err != nil {
		return "", false, err
	}
	return t.finish(ctx, d, in, false)
}

func (t *RecordType) revise(ctx context.Context, in recordtype.RunInput) (string, bool, error) {
	d, err := t.cfg.Records.Edit(ctx, in.ExistingRecordID)
	if err != nil {
		return "", false, importerr.NewRunError("edit", in.ExistingRecordID, err)
	}
	rec := *in.Record
	rec.Files.Enabled = len(d.Files) > 0
	if _, err := t.cfg.Records.UpdateDraft(ctx, d.ID, rec); err != nil {
		return "", false, importerr.NewRunError("update draft", d.ID, err)
	}
	return t.finish(ctx, d, in, false)
}

// unpublishedDraft returns the draft of id when id was never published, or
// nil when a published record exists.
func (t *RecordType) unpublishedDraft(ctx context.Context, id string) (*repository.Draft, error) {
	_, err := t.cfg.Records.Read(ctx, id)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, importerr.NewRunError("read", id, err)
	}
	d, err := t.cfg.Records.ReadDraft(ctx, id)
	if err != nil {
		return nil, importerr.NewRunError("read draft", id, err)
	}
	return d, nil
}

// updateDraft replaces the payload of a never-published draft and adds the
// files it does not hold yet.
func (t *RecordType) updateDraft(ctx context.Context, d *repository.Draft, in recordtype.RunInput) (string, bool, error) {
	held := make(map[string]bool, len(d.Files))
	for _, f := range d.Files {
		held[f.Key] = true
	}
	var files []resolve.ValidatedFile
	for _, f := range in.ValidatedFiles {
		if !held[f.Key] {
			files = append(files, f)
		}
	}

	rec := *in.Record
	rec.Files.Enabled = len(d.Files) > 0 || len(files) > 0
	d, err := t.cfg.Records.UpdateDraft(ctx, d.ID, rec)
	if err != nil {
		return "", false, importerr.NewRunError("update draft", in.ExistingRecordID, err)
	}
	if !d.Record.HasDOI() {
		if err := t.mintDOI(ctx, d.ID, in); err != nil {
			return "", false, err
		}
	}
	if err := t.attachFiles(ctx, d.ID, files, in.BucketID); err != nil {
		return "", false, err
	}
	return t.finish(ctx, d, in, true)
}

// needsNewVersion reports whether an update of an existing record must go
// through a new version: new files can only be added to a new version, and
// so can new community memberships.
func (t *RecordType) needsNewVersion(ctx context.Context, in recordtype.RunInput) (bool, error) {
	if len(in.ValidatedFiles) > 0 {
		return true, nil
	}
	if in.Communities.Empty() {
		return false, nil
	}
	existing, err := t.cfg.Records.Read(ctx, in.ExistingRecordID)
	if err != nil {
		return false, importerr.NewRunError("read", in.ExistingRecordID, err)
	}
	return len(pendingCommunities(existing, in.Communities)) > 0, nil
}

func (t *RecordType) mintDOI(ctx context.Context, draftID string, in recordtype.RunInput) error {
	if !in.Options.DOIMinting || in.Record.HasDOI() {
		return nil
	}
	if _, err := t.cfg.Records.ReserveDOI(ctx, draftID); err != nil {
		return importerr.NewRunError("reserve DOI", draftID, err)
	}
	return nil
}

// attachFiles uploads every file to the draft. The first failure aborts the
// whole batch.
func (t *RecordType) attachFiles(ctx context.Context, draftID string, files []resolve.ValidatedFile, bucketID string) error {
	if len(files) == 0 {
		return nil
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key
	}
	if err := t.cfg.Files.InitFiles(ctx, draftID, keys); err != nil {
		return importerr.NewFileError("init files", strings.Join(keys, ", "), err)
	}

	for _, f := range files {
		if err := t.uploadFile(ctx, draftID, f, bucketID); err != nil {
			return err
		}
	}
	return nil
}

func (t *RecordType) uploadFile(ctx context.Context, draftID string, f resolve.ValidatedFile, bucketID string) error {
	rc, err := t.cfg.Streamer.Open(ctx, f, bucketID)
	if err != nil {
		return importerr.NewFileError("open file", f.Key, err)
	}
	defer rc.Close()

	if err := t.cfg.Files.SetContent(ctx, draftID, f.Key, rc, f.Size); err != nil {
		return importerr.NewFileError("upload file", f.Key, err)
	}
	if err := t.cfg.Files.CommitFile(ctx, draftID, f.Key); err != nil {
		return importerr.NewFileError("commit file", f.Key, err)
	}
	return nil
}

// finish publishes the draft and joins the communities it is not part of
// yet. A never-published record is submitted to its first community; the
// submission is accepted only when publishing is enabled. Without
// publishing the draft is left for review and reported as such.
func (t *RecordType) finish(ctx context.Context, d *repository.Draft, in recordtype.RunInput, submit bool) (string, bool, error) {
	pending := pendingCommunities(d, in.Communities)

	if submit && len(pending) > 0 {
		requestID, err := t.cfg.Reviews.Submit(ctx, d.ID, pending[0])
		if err != nil {
			return "", false, importerr.NewRunError("submit to community", d.ID, err)
		}
		pending = pending[1:]
		if !in.Options.Publish {
			return d.ID, true, nil
		}
		if err := t.cfg.Reviews.Accept(ctx, requestID); err != nil {
			return "", false, importerr.NewRunError("accept submission", d.ID, err)
		}
	} else {
		if !in.Options.Publish {
			return d.ID, true, nil
		}
		if _, err := t.cfg.Records.Publish(ctx, d.ID); err != nil {
			return "", false, importerr.NewRunError("publish", d.ID, err)
		}
	}

	for _, communityID := range pending {
		requestID, err := t.cfg.Reviews.Include(ctx, d.ID, communityID)
		if err != nil {
			return "", false, importerr.NewRunError("include in community", d.ID, err)
		}
		if err := t.cfg.Reviews.Accept(ctx, requestID); err != nil {
			return "", false, importerr.NewRunError("accept inclusion", d.ID, err)
		}
	}
	return d.ID, false, nil
}

// pendingCommunities returns the resolved communities d is not part of,
// default first.
func pendingCommunities(d *repository.Draft, communities resolve.CommunityUUIDs) []string {
	var pending []string
	for _, id := range communities.IDs {
		if !d.InCommunity(id) {
			pending = append(pending, id)
		}
	}
	return pending
}

// failure converts a failed unit of work into collected errors. Field-level
// rejections of the platform follow the failure they explain.
func failure(err error) importerr.List {
	var runErr *importerr.RunError
	if errors.As(err, &runErr) {
		out := importerr.List{runErr.AsError()}
		out.Extend(importerr.Details(err))
		return out
	}
	var panicErr *repository.PanicError
	if errors.As(err, &panicErr) {
		return importerr.List{{Type: importerr.TypeUnexpected, Loc: "record", Msg: unexpectedMessage(panicErr, panicErr.Stack)}}
	}
	return importerr.List{{Type: importerr.TypeUnexpected, Loc: "record", Msg: unexpectedMessage(err, string(debug.Stack()))}}
}

func unexpectedMessage(err error, stack string) string {
	msg := "Unexpected error: " + err.Error()
	if stack == "" {
		return msg
	}
	lines := strings.Split(strings.TrimSpace(stack), "\n")
	if len(lines) > traceLines {
		lines = lines[:traceLines]
	}
	return msg + "\n" + strings.Join(lines, "\n")
}
