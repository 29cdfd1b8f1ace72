package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/bulkimport/bulkimport/internal/record"
)

// Operation names accepted by InMemory.FailNext.
const (
	OpCreate     = "create"
	OpEdit       = "edit"
	OpNewVersion = "new_version"
	OpUpdate     = "update"
	OpReserveDOI = "reserve_doi"
	OpPublish    = "publish"
	OpDelete     = "delete"
	OpInitFiles  = "init_files"
	OpSetContent = "set_content"
	OpCommitFile = "commit_file"
	OpSubmit     = "submit"
	OpAccept     = "accept"
)

type memFile struct {
	Key       string `json:"key"`
	Data      []byte `json:"data"`
	Size      int64  `json:"size"`
	HasData   bool   `json:"has_data"`
	Committed bool   `json:"committed"`
}

type memEntry struct {
	ID           string              `json:"id"`
	ParentID     string              `json:"parent_id"`
	Record       record.Record       `json:"record"`
	VersionIndex int                 `json:"version_index"`
	RevisionID   int                 `json:"revision_id"`
	Files        map[string]*memFile `json:"files"`
}

type memParent struct {
	ID          string   `json:"id"`
	Communities []string `json:"communities"`
	Latest      string   `json:"latest"`
	LastVersion int      `json:"last_version"`
}

type memRequest struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	TargetID    string `json:"target_id"`
	CommunityID string `json:"community_id"`
	Status      string `json:"status"`
}

type memState struct {
	Seq        int                          `json:"seq"`
	Published  map[string]*memEntry         `json:"published"`
	Drafts     map[string]*memEntry         `json:"drafts"`
	Parents    map[string]*memParent        `json:"parents"`
	Tombstones map[string]string            `json:"tombstones"`
	Requests   map[string]*memRequest       `json:"requests"`
	Buckets    map[string]map[string][]byte `json:"buckets"`
}

type memSubject struct {
	id, subject, scheme string
}

// InMemory is an in-memory implementation of Platform.
// This is intended for testing and local runs.
type InMemory struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	state       memState
	communities map[string]Community
	subjects    []memSubject
	failures    map[string]error
}

// NewInMemory creates an empty in-memory platform.
func NewInMemory() *InMemory {
	return &InMemory{
		state: memState{
			Published:  make(map[string]*memEntry),
			Drafts:     make(map[string]*memEntry),
			Parents:    make(map[string]*memParent),
			Tombstones: make(map[string]string),
			Requests:   make(map[string]*memRequest),
			Buckets:    make(map[string]map[string][]byte),
		},
		communities: make(map[string]Community),
		failures:    make(map[string]error),
	}
}

// AddCommunity registers a community and returns it.
func (m *InMemory) AddCommunity(slug, title string) Community {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Seq++
	c := Community{ID: fmt.Sprintf("comm-%04d", m.state.Seq), Slug: slug, Title: title}
	m.communities[c.Slug] = c
	m.communities[c.ID] = c
	return c
}

// AddSubject registers a vocabulary subject.
func (m *InMemory) AddSubject(id, subject, scheme string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, memSubject{id: id, subject: subject, scheme: scheme})
}

// PutObject stores an object in a bucket.
func (m *InMemory) PutObject(bucketID, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.state.Buckets[bucketID]
	if !ok {
		b = make(map[string][]byte)
		m.state.Buckets[bucketID] = b
	}
	b[key] = append([]byte(nil), data...)
}

// FailNext makes the next call of op fail with err.
func (m *InMemory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *InMemory) injected(op string) error {
	err, ok := m.failures[op]
	if ok {
		delete(m.failures, op)
	}
	return err
}

func (m *InMemory) nextID(prefix string) string {
	m.state.Seq++
	return fmt.Sprintf("%s-%04d", prefix, m.state.Seq)
}

// Do runs fn and restores the platform state if fn fails. Units of work are
// serialized.
func (m *InMemory) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot, err := json.Marshal(m.state)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("snapshot platform state: %w", err)
	}

	fnErr := run(ctx, fn)
	if fnErr == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var restored memState
	if err := json.Unmarshal(snapshot, &restored); err != nil {
		return fmt.Errorf("restore platform state: %w (after %v)", err, fnErr)
	}
	m.state = restored
	return fnErr
}

// run calls fn and turns a panic into an error after rollback.
func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn(ctx)
}

// PanicError carries a panic recovered inside a unit of work.
type PanicError struct {
	Value interface{}
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (m *InMemory) toDraft(e *memEntry, published bool) *Draft {
	d := &Draft{
		ID:           e.ID,
		ParentID:     e.ParentID,
		Record:       cloneRecord(e.Record),
		VersionIndex: e.VersionIndex,
		RevisionID:   e.RevisionID,
		Published:    published,
	}
	if p, ok := m.state.Parents[e.ParentID]; ok {
		d.Communities = append([]string(nil), p.Communities...)
	}
	keys := make([]string, 0, len(e.Files))
	for k := range e.Files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := e.Files[k]
		d.Files = append(d.Files, FileEntry{Key: f.Key, Size: f.Size, Committed: f.Committed})
	}
	return d
}

// Create starts a new record draft.
func (m *InMemory) Create(_ context.Context, rec record.Record) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpCreate); err != nil {
		return nil, err
	}

	parent := &memParent{ID: m.nextID("parent"), LastVersion: 1}
	e := &memEntry{
		ID:           m.nextID("rec"),
		ParentID:     parent.ID,
		Record:       cloneRecord(rec),
		VersionIndex: 1,
		RevisionID:   1,
		Files:        make(map[string]*memFile),
	}
	m.state.Parents[parent.ID] = parent
	m.state.Drafts[e.ID] = e
	return m.toDraft(e, false), nil
}

// Read returns a published record.
func (m *InMemory) Read(_ context.Context, id string) (*Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.state.Tombstones[id]; ok {
		return nil, ErrDeleted
	}
	e, ok := m.state.Published[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.toDraft(e, true), nil
}

// ReadDraft returns a pending draft.
func (m *InMemory) ReadDraft(_ context.Context, id string) (*Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.state.Drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.toDraft(e, false), nil
}

// Edit opens a revision draft of a published record.
func (m *InMemory) Edit(_ context.Context, id string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpEdit); err != nil {
		return nil, err
	}
	if d, ok := m.state.Drafts[id]; ok {
		return m.toDraft(d, false), nil
	}
	pub, ok := m.state.Published[id]
	if !ok {
		return nil, ErrNotFound
	}

	e := &memEntry{
		ID:           pub.ID,
		ParentID:     pub.ParentID,
		Record:       cloneRecord(pub.Record),
		VersionIndex: pub.VersionIndex,
		RevisionID:   pub.RevisionID + 1,
		Files:        make(map[string]*memFile, len(pub.Files)),
	}
	for k, f := range pub.Files {
		cpy := *f
		e.Files[k] = &cpy
	}
	m.state.Drafts[e.ID] = e
	return m.toDraft(e, false), nil
}

// NewVersion opens a draft for the next version of a published record.
func (m *InMemory) NewVersion(_ context.Context, id string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpNewVersion); err != nil {
		return nil, err
	}
	pub, ok := m.state.Published[id]
	if !ok {
		return nil, ErrNotFound
	}
	parent := m.state.Parents[pub.ParentID]
	if parent.Latest != id {
		return nil, fmt.Errorf("%w: record %s is not the latest version", ErrConflict, id)
	}

	rec := cloneRecord(pub.Record)
	rec.PIDs = nil
	e := &memEntry{
		ID:           m.nextID("rec"),
		ParentID:     pub.ParentID,
		Record:       rec,
		VersionIndex: parent.LastVersion + 1,
		RevisionID:   1,
		Files:        make(map[string]*memFile),
	}
	parent.LastVersion = e.VersionIndex
	m.state.Drafts[e.ID] = e
	return m.toDraft(e, false), nil
}

// UpdateDraft replaces the payload of a draft.
func (m *InMemory) UpdateDraft(_ context.Context, id string, rec record.Record) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpUpdate); err != nil {
		return nil, err
	}
	e, ok := m.state.Drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec = cloneRecord(rec)
	if pid, ok := e.Record.PIDs[record.PIDSchemeDOI]; ok && !rec.HasDOI() {
		if rec.PIDs == nil {
			rec.PIDs = make(map[string]record.PID)
		}
		rec.PIDs[record.PIDSchemeDOI] = pid
	}
	e.Record = rec
	return m.toDraft(e, false), nil
}

// ReserveDOI mints a DOI for a draft.
func (m *InMemory) ReserveDOI(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpReserveDOI); err != nil {
		return "", err
	}
	e, ok := m.state.Drafts[id]
	if !ok {
		return "", ErrNotFound
	}
	doi := "10.5281/" + e.ID
	if e.Record.PIDs == nil {
		e.Record.PIDs = make(map[string]record.PID)
	}
	e.Record.PIDs[record.PIDSchemeDOI] = record.PID{Identifier: doi, Provider: record.ProviderDataCite, Client: record.ProviderDataCite}
	return doi, nil
}

// Publish publishes a draft.
func (m *InMemory) Publish(_ context.Context, id string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpPublish); err != nil {
		return nil, err
	}
	return m.publishLocked(id)
}

func (m *InMemory) publishLocked(id string) (*Draft, error) {
	e, ok := m.state.Drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Record.Files.Enabled {
		if len(e.Files) == 0 {
			return nil, fmt.Errorf("%w: files are enabled but none were committed", ErrConflict)
		}
		for _, f := range e.Files {
			if !f.Committed {
				return nil, fmt.Errorf("%w: file %s is not committed", ErrConflict, f.Key)
			}
		}
	}

	delete(m.state.Drafts, id)
	m.state.Published[id] = e
	parent := m.state.Parents[e.ParentID]
	if parent.Latest == "" || e.VersionIndex >= m.versionOf(parent.Latest) {
		parent.Latest = id
	}
	return m.toDraft(e, true), nil
}

func (m *InMemory) versionOf(id string) int {
	if e, ok := m.state.Published[id]; ok {
		return e.VersionIndex
	}
	return 0
}

// Delete tombstones a published record.
func (m *InMemory) Delete(_ context.Context, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpDelete); err != nil {
		return err
	}
	if _, ok := m.state.Tombstones[id]; ok {
		return ErrDeleted
	}
	if _, ok := m.state.Published[id]; !ok {
		return ErrNotFound
	}
	delete(m.state.Published, id)
	delete(m.state.Drafts, id)
	m.state.Tombstones[id] = note
	return nil
}

// TombstoneNote returns the removal note of a deleted record.
func (m *InMemory) TombstoneNote(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	note, ok := m.state.Tombstones[id]
	return note, ok
}

// InitFiles registers pending files on a draft.
func (m *InMemory) InitFiles(_ context.Context, draftID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpInitFiles); err != nil {
		return err
	}
	e, ok := m.state.Drafts[draftID]
	if !ok {
		return ErrNotFound
	}
	for _, k := range keys {
		if _, exists := e.Files[k]; exists {
			return fmt.Errorf("%w: file %s already exists", ErrConflict, k)
		}
	}
	for _, k := range keys {
		e.Files[k] = &memFile{Key: k}
	}
	return nil
}

// SetContent uploads the content of a pending file. A negative size skips
// the length check.
func (m *InMemory) SetContent(_ context.Context, draftID, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read content of %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpSetContent); err != nil {
		return err
	}
	f, err := m.pendingFile(draftID, key)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("%w: file %s has %d bytes, expected %d", ErrConflict, key, len(data), size)
	}
	f.Data = data
	f.Size = int64(len(data))
	f.HasData = true
	return nil
}

// CommitFile finalizes an uploaded file.
func (m *InMemory) CommitFile(_ context.Context, draftID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpCommitFile); err != nil {
		return err
	}
	f, err := m.pendingFile(draftID, key)
	if err != nil {
		return err
	}
	if !f.HasData {
		return fmt.Errorf("%w: file %s has no content", ErrConflict, key)
	}
	f.Committed = true
	return nil
}

func (m *InMemory) pendingFile(draftID, key string) (*memFile, error) {
	e, ok := m.state.Drafts[draftID]
	if !ok {
		return nil, ErrNotFound
	}
	f, ok := e.Files[key]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, key)
	}
	return f, nil
}

// Submit creates a community submission request for a draft.
func (m *InMemory) Submit(_ context.Context, draftID, communityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpSubmit); err != nil {
		return "", err
	}
	if _, ok := m.state.Drafts[draftID]; !ok {
		return "", ErrNotFound
	}
	if _, ok := m.communities[communityID]; !ok {
		return "", fmt.Errorf("community %s: %w", communityID, ErrNotFound)
	}
	req := &memRequest{ID: m.nextID("req"), Kind: "submission", TargetID: draftID, CommunityID: communityID, Status: "submitted"}
	m.state.Requests[req.ID] = req
	return req.ID, nil
}

// Include creates a community inclusion request for a published record.
func (m *InMemory) Include(_ context.Context, recordID, communityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.Published[recordID]; !ok {
		return "", ErrNotFound
	}
	if _, ok := m.communities[communityID]; !ok {
		return "", fmt.Errorf("community %s: %w", communityID, ErrNotFound)
	}
	req := &memRequest{ID: m.nextID("req"), Kind: "inclusion", TargetID: recordID, CommunityID: communityID, Status: "submitted"}
	m.state.Requests[req.ID] = req
	return req.ID, nil
}

// Accept accepts a pending request.
func (m *InMemory) Accept(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpAccept); err != nil {
		return err
	}
	req, ok := m.state.Requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != "submitted" {
		return fmt.Errorf("%w: request %s is %s", ErrConflict, requestID, req.Status)
	}

	var parentID string
	switch req.Kind {
	case "submission":
		d, err := m.publishLocked(req.TargetID)
		if err != nil {
			return err
		}
		parentID = d.ParentID
	default:
		e, ok := m.state.Published[req.TargetID]
		if !ok {
			return ErrNotFound
		}
		parentID = e.ParentID
	}

	parent := m.state.Parents[parentID]
	if !contains(parent.Communities, req.CommunityID) {
		parent.Communities = append(parent.Communities, req.CommunityID)
	}
	req.Status = "accepted"
	return nil
}

// PendingRequests returns the ids of requests awaiting a decision.
func (m *InMemory) PendingRequests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, r := range m.state.Requests {
		if r.Status == "submitted" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ReadCommunity looks a community up by slug or id.
func (m *InMemory) ReadCommunity(_ context.Context, slugOrID string) (*Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.communities[slugOrID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// SearchSubjects returns the subjects matching subject within scheme.
func (m *InMemory) SearchSubjects(_ context.Context, subject, scheme string) ([]record.Subject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []record.Subject
	for _, s := range m.subjects {
		if strings.EqualFold(s.subject, subject) && s.scheme == scheme {
			out = append(out, record.Subject{ID: s.id, Subject: s.subject})
		}
	}
	return out, nil
}

// ListObjects lists a bucket.
func (m *InMemory) ListObjects(_ context.Context, bucketID string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.state.Buckets[bucketID]
	if !ok {
		return nil, fmt.Errorf("bucket %s: %w", bucketID, ErrNotFound)
	}
	out := make([]Object, 0, len(b))
	for k, data := range b {
		out = append(out, Object{Key: k, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// OpenObject opens a bucket object for reading.
func (m *InMemory) OpenObject(_ context.Context, bucketID, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.state.Buckets[bucketID][key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s: %w", bucketID, key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

// WriteObject stores the content of r in a bucket.
func (m *InMemory) WriteObject(_ context.Context, bucketID, key string, r io.Reader) (Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("read object %s/%s: %w", bucketID, key, err)
	}
	m.PutObject(bucketID, key, data)
	return Object{Key: key, Size: int64(len(data))}, nil
}

// SearchPublished returns published records whose title contains query.
func (m *InMemory) SearchPublished(query string) []*Draft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.search(m.state.Published, query, true)
}

// SearchDrafts returns pending drafts whose title contains query.
func (m *InMemory) SearchDrafts(query string) []*Draft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.search(m.state.Drafts, query, false)
}

func (m *InMemory) search(entries map[string]*memEntry, query string, published bool) []*Draft {
	q := strings.ToLower(query)
	var out []*Draft
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Record.Metadata.Title), q) {
			out = append(out, m.toDraft(e, published))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneRecord(rec record.Record) record.Record {
	var out record.Record
	raw, err := json.Marshal(rec)
	if err != nil {
		return rec
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return rec
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
